package cellgraph

import "strings"

// tokenKind classifies formula tokens.
type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenNumber
	tokenString
	tokenBool
	tokenError  // literal error token like #DIV/0!
	tokenCell   // A1, Sheet1!A1, $A$1
	tokenRange  // A1:B2, Sheet1!A1:B2
	tokenName   // defined name or table reference
	tokenFunc   // identifier directly followed by '('
	tokenOp     // + - * / ^ & = <> < <= > >= %
	tokenComma
	tokenLParen
	tokenRParen
)

// token is a lexical token with its byte position in the formula text.
type token struct {
	kind tokenKind
	text string
	pos  int
}

// lexer tokenizes a formula body (the part after the leading '=').
type lexer struct {
	input string
	pos   int
}

func newLexer(formula string) *lexer {
	// tolerate a leading formula marker
	formula = strings.TrimPrefix(strings.TrimSpace(formula), "=")
	return &lexer{input: formula}
}

// tokenize scans the whole input. It fails with a FormulaSyntaxError naming
// the offending token and position.
func (l *lexer) tokenize() ([]token, error) {
	var tokens []token
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
		if tok.kind == tokenEOF {
			return tokens, nil
		}
	}
}

func (l *lexer) errorf(pos int, tok, reason string) error {
	return &FormulaSyntaxError{Formula: l.input, Token: tok, Pos: pos, Reason: reason}
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.input) && isSpace(l.input[l.pos]) {
		l.pos++
	}
	if l.pos >= len(l.input) {
		return token{kind: tokenEOF, pos: l.pos}, nil
	}

	start := l.pos
	ch := l.input[l.pos]

	switch {
	case ch == '"':
		return l.scanString()
	case ch == '\'':
		return l.scanQuotedSheetRef()
	case ch == '#':
		return l.scanErrorToken()
	case ch >= '0' && ch <= '9', ch == '.' && l.digitAt(l.pos+1):
		return l.scanNumber()
	case ch == '$' || isRefAlpha(ch) || ch == '_':
		return l.scanWord()
	}

	switch ch {
	case '(', ')', ',':
		l.pos++
		kind := tokenComma
		if ch == '(' {
			kind = tokenLParen
		} else if ch == ')' {
			kind = tokenRParen
		}
		return token{kind: kind, text: string(ch), pos: start}, nil
	case '+', '-', '*', '/', '^', '&', '=', '%':
		l.pos++
		return token{kind: tokenOp, text: string(ch), pos: start}, nil
	case '<':
		l.pos++
		if l.pos < len(l.input) && (l.input[l.pos] == '=' || l.input[l.pos] == '>') {
			l.pos++
			return token{kind: tokenOp, text: l.input[start:l.pos], pos: start}, nil
		}
		return token{kind: tokenOp, text: "<", pos: start}, nil
	case '>':
		l.pos++
		if l.pos < len(l.input) && l.input[l.pos] == '=' {
			l.pos++
			return token{kind: tokenOp, text: ">=", pos: start}, nil
		}
		return token{kind: tokenOp, text: ">", pos: start}, nil
	}

	return token{}, l.errorf(start, string(ch), "unexpected character")
}

func (l *lexer) digitAt(pos int) bool {
	return pos < len(l.input) && l.input[pos] >= '0' && l.input[pos] <= '9'
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// scanString scans a double-quoted string literal; "" escapes a quote.
func (l *lexer) scanString() (token, error) {
	start := l.pos
	l.pos++ // opening quote
	var sb strings.Builder
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if ch == '"' {
			if l.pos+1 < len(l.input) && l.input[l.pos+1] == '"' {
				sb.WriteByte('"')
				l.pos += 2
				continue
			}
			l.pos++
			return token{kind: tokenString, text: sb.String(), pos: start}, nil
		}
		sb.WriteByte(ch)
		l.pos++
	}
	return token{}, l.errorf(start, l.input[start:], "unclosed string literal")
}

// scanErrorToken scans an error literal like #DIV/0! or #N/A.
func (l *lexer) scanErrorToken() (token, error) {
	start := l.pos
	l.pos++ // '#'
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if isRefAlpha(ch) || (ch >= '0' && ch <= '9') || ch == '/' || ch == '?' {
			l.pos++
			continue
		}
		if ch == '!' {
			l.pos++
		}
		break
	}
	text := l.input[start:l.pos]
	if _, ok := ParseErrorValue(text); !ok {
		return token{}, l.errorf(start, text, "unknown error token")
	}
	return token{kind: tokenError, text: text, pos: start}, nil
}

// scanNumber scans integers, decimals, and scientific notation.
func (l *lexer) scanNumber() (token, error) {
	start := l.pos
	for l.digitAt(l.pos) {
		l.pos++
	}
	if l.pos < len(l.input) && l.input[l.pos] == '.' {
		l.pos++
		for l.digitAt(l.pos) {
			l.pos++
		}
	}
	if l.pos < len(l.input) && (l.input[l.pos] == 'e' || l.input[l.pos] == 'E') {
		saved := l.pos
		l.pos++
		if l.pos < len(l.input) && (l.input[l.pos] == '+' || l.input[l.pos] == '-') {
			l.pos++
		}
		if !l.digitAt(l.pos) {
			l.pos = saved // not an exponent after all
		} else {
			for l.digitAt(l.pos) {
				l.pos++
			}
		}
	}
	return token{kind: tokenNumber, text: l.input[start:l.pos], pos: start}, nil
}

// scanQuotedSheetRef scans 'Sheet Name'!A1 or 'Sheet Name'!A1:B2.
func (l *lexer) scanQuotedSheetRef() (token, error) {
	start := l.pos
	l.pos++ // opening quote
	for l.pos < len(l.input) && l.input[l.pos] != '\'' {
		l.pos++
	}
	if l.pos >= len(l.input) {
		return token{}, l.errorf(start, l.input[start:], "unclosed sheet name")
	}
	l.pos++ // closing quote
	if l.pos >= len(l.input) || l.input[l.pos] != '!' {
		return token{}, l.errorf(start, l.input[start:l.pos], "sheet name must be followed by '!'")
	}
	l.pos++ // '!'
	return l.scanRefTail(start)
}

// scanWord scans identifiers: cell refs, ranges, sheet-qualified refs,
// booleans, function names, and defined names.
func (l *lexer) scanWord() (token, error) {
	start := l.pos
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if isRefAlpha(ch) || (ch >= '0' && ch <= '9') || ch == '_' || ch == '$' || ch == '.' {
			l.pos++
			continue
		}
		break
	}
	word := l.input[start:l.pos]

	if l.pos < len(l.input) && l.input[l.pos] == '!' {
		l.pos++ // sheet-qualified reference
		return l.scanRefTail(start)
	}

	switch strings.ToUpper(word) {
	case "TRUE", "FALSE":
		return token{kind: tokenBool, text: strings.ToUpper(word), pos: start}, nil
	}

	if isCellWord(word) {
		if l.pos < len(l.input) && l.input[l.pos] == ':' {
			return l.scanRangeTail(start, word)
		}
		return token{kind: tokenCell, text: word, pos: start}, nil
	}

	if l.pos < len(l.input) && l.input[l.pos] == '(' {
		return token{kind: tokenFunc, text: strings.ToUpper(word), pos: start}, nil
	}

	return token{kind: tokenName, text: word, pos: start}, nil
}

// scanRefTail scans the cell or range part after "Sheet!".
func (l *lexer) scanRefTail(start int) (token, error) {
	cellStart := l.pos
	for l.pos < len(l.input) && (isRefAlpha(l.input[l.pos]) || l.digitAt(l.pos) || l.input[l.pos] == '$') {
		l.pos++
	}
	first := l.input[cellStart:l.pos]
	if !isCellWord(first) {
		return token{}, l.errorf(start, l.input[start:l.pos], "invalid cell reference after sheet name")
	}
	if l.pos < len(l.input) && l.input[l.pos] == ':' {
		return l.scanRangeTail(start, l.input[start:l.pos])
	}
	return token{kind: tokenCell, text: l.input[start:l.pos], pos: start}, nil
}

// scanRangeTail scans the second corner of a range after the ':'.
func (l *lexer) scanRangeTail(start int, _ string) (token, error) {
	l.pos++ // ':'
	secondStart := l.pos
	for l.pos < len(l.input) && (isRefAlpha(l.input[l.pos]) || l.digitAt(l.pos) || l.input[l.pos] == '$') {
		l.pos++
	}
	second := l.input[secondStart:l.pos]
	if !isCellWord(second) {
		return token{}, l.errorf(start, l.input[start:l.pos], "invalid range end")
	}
	return token{kind: tokenRange, text: l.input[start:l.pos], pos: start}, nil
}

// isCellWord reports whether a bare word (possibly with $ markers) is a valid
// cell reference like A1 or $B$12.
func isCellWord(s string) bool {
	s = strings.ReplaceAll(s, "$", "")
	if s == "" {
		return false
	}
	i := 0
	for i < len(s) && isRefAlpha(s[i]) {
		i++
	}
	if i == 0 || i > 3 || i == len(s) {
		return false
	}
	for ; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
