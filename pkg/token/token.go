package token

type TokenType int

const (
	STRING TokenType = iota
	INT
	IDENTIFIER
	EOF

	KEYWORD_BEGIN
	FUNC
	LET
	RETURN
	IF
	ELSE
	INT_TYPE
	STRING_TYPE
	KEYWORD_END

	LEFT_PAREN
	RIGHT_PAREN
	LEFT_BRACE
	RIGHT_BRACE
	COMMA
	COLON
	SEMICOLON
	EQUAL

	binaryop_begin
	PLUS
	MINUS
	STAR
	SLASH

	LESSER
	GREATER
	EQUAL_EQUAL
	BANG_EQUAL
	binaryop_end
)

func (t TokenType) IsBinaryOperator() bool {
	return t > binaryop_begin && t < binaryop_end
}

func (t TokenType) IsType() bool {
	return t == INT_TYPE || t == STRING_TYPE
}

type Token struct {
	Lexeme string
	Type   TokenType
	Pos    Pos
}

type Pos struct {
	Line   int
	Column int
}

// Keywords is ordered to match the token constants between KEYWORD_BEGIN and
// KEYWORD_END, so the lexer can map index i to TokenType(KEYWORD_BEGIN+1+i).
var Keywords = [...]string{
	"func",
	"let",
	"return",
	"if",
	"else",
	"int",
	"string",
}
