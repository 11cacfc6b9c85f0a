package config

import "fmt"

// ParseError is a syntax error with its position.
type ParseError struct {
	Line    int
	Column  int
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d column %d: %s", e.Line, e.Column, e.Message)
}

// Parser builds a ConfigTree from configuration text.
//
//	statement := word+ ( ";" | "{" statement* "}" )
type Parser struct {
	lex  *Lexer
	errs []error
}

// NewParser creates a parser for input.
func NewParser(input string) *Parser {
	return &Parser{lex: NewLexer(input)}
}

// maxErrors stops parsing once this many errors have been collected.
const maxErrors = 10

// Parse parses the whole input. On error the returned tree holds
// whatever parsed cleanly.
func (p *Parser) Parse() (*ConfigTree, []error) {
	tree := &ConfigTree{}
	for len(p.errs) < maxErrors {
		tok := p.lex.Peek()
		if tok.Type == TokenEOF {
			break
		}
		if tok.Type == TokenRBrace {
			p.lex.Next()
			p.errorf(tok, "unexpected '}'")
			continue
		}
		if n := p.statement(); n != nil {
			tree.Children = append(tree.Children, n)
		}
	}
	return tree, p.errs
}

func (p *Parser) errorf(tok Token, format string, args ...any) {
	p.errs = append(p.errs, &ParseError{Line: tok.Line, Column: tok.Column, Message: fmt.Sprintf(format, args...)})
}

func (p *Parser) statement() *Node {
	first := p.lex.Peek()
	n := &Node{Line: first.Line, Column: first.Column}
	for {
		tok := p.lex.Next()
		switch tok.Type {
		case TokenIdentifier, TokenString:
			n.Keys = append(n.Keys, tok.Value)
		case TokenSemicolon:
			if len(n.Keys) == 0 {
				return nil // stray ';'
			}
			n.IsLeaf = true
			return n
		case TokenLBrace:
			if len(n.Keys) == 0 {
				p.errorf(tok, "block without a name")
			}
			if !p.block(n) {
				return nil
			}
			return n
		case TokenEOF:
			p.errorf(tok, "unexpected end of input after %q", n.KeyPath())
			return nil
		case TokenRBrace:
			p.errorf(tok, "missing ';' after %q", n.KeyPath())
			return nil
		default:
			p.errorf(tok, "%s", tok.Value)
			return nil
		}
	}
}

// block parses children up to the closing brace.
func (p *Parser) block(parent *Node) bool {
	for len(p.errs) < maxErrors {
		tok := p.lex.Peek()
		switch tok.Type {
		case TokenRBrace:
			p.lex.Next()
			return true
		case TokenEOF:
			p.errorf(tok, "missing '}' for %q", parent.KeyPath())
			return false
		}
		if child := p.statement(); child != nil {
			parent.Children = append(parent.Children, child)
		}
	}
	return false
}
