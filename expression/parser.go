package expression

import "fmt"

// ParseError reports an expression syntax failure.
type ParseError struct {
	Message  string
	Position int
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at position %d: %s", e.Position, e.Message)
}

type parser struct {
	tokens []Token
	pos    int
}

// Parse turns an expression body into its AST.
//
// Precedence, lowest to highest: ternary, ||, &&, equality, relational,
// additive, multiplicative, unary, postfix.
func Parse(input string) (Expr, error) {
	tokens, err := Tokenize(input)
	if err != nil {
		if le, ok := err.(*LexError); ok {
			return nil, &ParseError{Message: le.Message, Position: le.Position}
		}
		return nil, err
	}
	p := &parser{tokens: tokens}
	expr, err := p.parseTernary()
	if err != nil {
		return nil, err
	}
	if p.peek().Kind != TokenEOF {
		return nil, p.errorf("unexpected token after expression")
	}
	return expr, nil
}

func (p *parser) parseTernary() (Expr, error) {
	cond, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().Kind == TokenQuestion {
		p.advance()
		thenExpr, err := p.parseTernary()
		if err != nil {
			return nil, err
		}
		if err := p.expect(TokenColon, "expected ':' in ternary expression"); err != nil {
			return nil, err
		}
		elseExpr, err := p.parseTernary()
		if err != nil {
			return nil, err
		}
		return TernaryExpr{Cond: cond, Then: thenExpr, Else: elseExpr}, nil
	}
	return cond, nil
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().Kind == TokenOr {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: OpOr, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseEquality()
	if err != nil {
		return nil, err
	}
	for p.peek().Kind == TokenAnd {
		p.advance()
		right, err := p.parseEquality()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: OpAnd, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseEquality() (Expr, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for {
		var op BinaryOp
		switch p.peek().Kind {
		case TokenEq:
			op = OpEq
		case TokenNe:
			op = OpNe
		default:
			return left, nil
		}
		p.advance()
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: op, Left: left, Right: right}
	}
}

func (p *parser) parseComparison() (Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for {
		var op BinaryOp
		switch p.peek().Kind {
		case TokenLt:
			op = OpLt
		case TokenLe:
			op = OpLe
		case TokenGt:
			op = OpGt
		case TokenGe:
			op = OpGe
		default:
			return left, nil
		}
		p.advance()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: op, Left: left, Right: right}
	}
}

func (p *parser) parseAdditive() (Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		var op BinaryOp
		switch p.peek().Kind {
		case TokenPlus:
			op = OpAdd
		case TokenMinus:
			op = OpSub
		default:
			return left, nil
		}
		p.advance()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: op, Left: left, Right: right}
	}
}

func (p *parser) parseMultiplicative() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		var op BinaryOp
		switch p.peek().Kind {
		case TokenStar:
			op = OpMul
		case TokenSlash:
			op = OpDiv
		case TokenPercent:
			op = OpMod
		default:
			return left, nil
		}
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: op, Left: left, Right: right}
	}
}

func (p *parser) parseUnary() (Expr, error) {
	switch p.peek().Kind {
	case TokenNot:
		p.advance()
		expr, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return UnaryExpr{Op: OpNot, Expr: expr}, nil
	case TokenMinus:
		p.advance()
		expr, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return UnaryExpr{Op: OpNeg, Expr: expr}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (Expr, error) {
	expr, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.peek().Kind {
		case TokenDot:
			p.advance()
			tok := p.advance()
			if tok.Kind != TokenIdent {
				return nil, p.errorf("expected property name after '.'")
			}
			if p.peek().Kind == TokenLParen {
				args, err := p.parseArgs()
				if err != nil {
					return nil, err
				}
				expr = Call{Name: tok.Text, Args: append([]Expr{expr}, args...)}
			} else {
				expr = MemberExpr{Object: expr, Property: tok.Text}
			}
		case TokenLBracket:
			p.advance()
			index, err := p.parseTernary()
			if err != nil {
				return nil, err
			}
			if err := p.expect(TokenRBracket, "expected ']'"); err != nil {
				return nil, err
			}
			expr = IndexExpr{Object: expr, Index: index}
		default:
			return expr, nil
		}
	}
}

func (p *parser) parsePrimary() (Expr, error) {
	tok := p.peek()
	switch tok.Kind {
	case TokenNull:
		p.advance()
		return NullLit{}, nil
	case TokenTrue:
		p.advance()
		return BoolLit{Value: true}, nil
	case TokenFalse:
		p.advance()
		return BoolLit{Value: false}, nil
	case TokenNumber:
		p.advance()
		return NumberLit{Value: tok.Num}, nil
	case TokenString:
		p.advance()
		return StringLit{Value: tok.Text}, nil
	case TokenIdent:
		p.advance()
		if p.peek().Kind == TokenLParen {
			args, err := p.parseArgs()
			if err != nil {
				return nil, err
			}
			return Call{Name: tok.Text, Args: args}, nil
		}
		ref := Ref{Parts: []RefPart{{Property: tok.Text}}}
		for {
			switch p.peek().Kind {
			case TokenDot:
				p.advance()
				prop := p.advance()
				if prop.Kind != TokenIdent {
					return nil, p.errorf("expected property name after '.'")
				}
				ref.Parts = append(ref.Parts, RefPart{Property: prop.Text})
			case TokenLBracket:
				p.advance()
				index, err := p.parseTernary()
				if err != nil {
					return nil, err
				}
				if err := p.expect(TokenRBracket, "expected ']'"); err != nil {
					return nil, err
				}
				ref.Parts = append(ref.Parts, RefPart{Index: index})
			default:
				return ref, nil
			}
		}
	case TokenLParen:
		p.advance()
		expr, err := p.parseTernary()
		if err != nil {
			return nil, err
		}
		if err := p.expect(TokenRParen, "expected ')'"); err != nil {
			return nil, err
		}
		return expr, nil
	case TokenLBracket:
		p.advance()
		var items []Expr
		if p.peek().Kind != TokenRBracket {
			for {
				item, err := p.parseTernary()
				if err != nil {
					return nil, err
				}
				items = append(items, item)
				if p.peek().Kind != TokenComma {
					break
				}
				p.advance()
				if p.peek().Kind == TokenRBracket {
					break
				}
			}
		}
		if err := p.expect(TokenRBracket, "expected ']'"); err != nil {
			return nil, err
		}
		return ArrayLit{Items: items}, nil
	case TokenLBrace:
		p.advance()
		var lit ObjectLit
		if p.peek().Kind != TokenRBrace {
			for {
				key := p.advance()
				if key.Kind != TokenIdent && key.Kind != TokenString {
					return nil, p.errorf("expected object key")
				}
				if err := p.expect(TokenColon, "expected ':' after object key"); err != nil {
					return nil, err
				}
				value, err := p.parseTernary()
				if err != nil {
					return nil, err
				}
				lit.Keys = append(lit.Keys, key.Text)
				lit.Values = append(lit.Values, value)
				if p.peek().Kind != TokenComma {
					break
				}
				p.advance()
				if p.peek().Kind == TokenRBrace {
					break
				}
			}
		}
		if err := p.expect(TokenRBrace, "expected '}'"); err != nil {
			return nil, err
		}
		return lit, nil
	}
	return nil, p.errorf("unexpected token")
}

func (p *parser) parseArgs() ([]Expr, error) {
	if err := p.expect(TokenLParen, "expected '('"); err != nil {
		return nil, err
	}
	var args []Expr
	if p.peek().Kind != TokenRParen {
		for {
			arg, err := p.parseTernary()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.peek().Kind != TokenComma {
				break
			}
			p.advance()
			if p.peek().Kind == TokenRParen {
				break
			}
		}
	}
	if err := p.expect(TokenRParen, "expected ')'"); err != nil {
		return nil, err
	}
	return args, nil
}

func (p *parser) peek() Token {
	if p.pos < len(p.tokens) {
		return p.tokens[p.pos]
	}
	return Token{Kind: TokenEOF}
}

func (p *parser) advance() Token {
	tok := p.peek()
	p.pos++
	return tok
}

func (p *parser) expect(kind TokenKind, msg string) error {
	if p.peek().Kind == kind {
		p.advance()
		return nil
	}
	return p.errorf("%s", msg)
}

func (p *parser) errorf(format string, args ...any) *ParseError {
	return &ParseError{Message: fmt.Sprintf(format, args...), Position: p.peek().Pos}
}
