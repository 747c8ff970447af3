package expression

// Expr is a node in the parsed expression tree.
type Expr interface {
	isExpr()
}

// NullLit is the null literal.
type NullLit struct{}

// BoolLit is a boolean literal.
type BoolLit struct{ Value bool }

// NumberLit is a numeric literal.
type NumberLit struct{ Value float64 }

// StringLit is a single-quoted string literal.
type StringLit struct{ Value string }

// RefPart is one access step in a Ref chain: a property name or an
// index expression.
type RefPart struct {
	Property string
	Index    Expr
}

// Ref is a context reference: a root identifier followed by property and
// index accesses, e.g. variables['Build.Reason'] or parameters.config.
type Ref struct {
	Parts []RefPart
}

// Call is a function invocation.
type Call struct {
	Name string
	Args []Expr
}

// IndexExpr is index access on an evaluated object.
type IndexExpr struct {
	Object Expr
	Index  Expr
}

// MemberExpr is property access on an evaluated object.
type MemberExpr struct {
	Object   Expr
	Property string
}

// UnaryOp enumerates unary operators.
type UnaryOp int

const (
	OpNot UnaryOp = iota
	OpNeg
)

// UnaryExpr applies a unary operator.
type UnaryExpr struct {
	Op   UnaryOp
	Expr Expr
}

// BinaryOp enumerates binary operators.
type BinaryOp int

const (
	OpAdd BinaryOp = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpAnd
	OpOr
)

// BinaryExpr applies a binary operator.
type BinaryExpr struct {
	Op    BinaryOp
	Left  Expr
	Right Expr
}

// TernaryExpr is the conditional operator cond ? a : b.
type TernaryExpr struct {
	Cond Expr
	Then Expr
	Else Expr
}

// ArrayLit is an array literal.
type ArrayLit struct{ Items []Expr }

// ObjectLit is an object literal with ordered key/value pairs.
type ObjectLit struct {
	Keys   []string
	Values []Expr
}

func (NullLit) isExpr()     {}
func (BoolLit) isExpr()     {}
func (NumberLit) isExpr()   {}
func (StringLit) isExpr()   {}
func (Ref) isExpr()         {}
func (Call) isExpr()        {}
func (IndexExpr) isExpr()   {}
func (MemberExpr) isExpr()  {}
func (UnaryExpr) isExpr()   {}
func (BinaryExpr) isExpr()  {}
func (TernaryExpr) isExpr() {}
func (ArrayLit) isExpr()    {}
func (ObjectLit) isExpr()   {}
