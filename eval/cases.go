package eval

import "io"

// NewCases returns an iterator over cases held in memory.
func NewCases[I, R any](cases []Case[I, R]) Cases[I, R] {
	return &sliceCases[I, R]{rest: cases}
}

type sliceCases[I, R any] struct {
	rest []Case[I, R]
}

func (s *sliceCases[I, R]) Next() (Case[I, R], error) {
	if len(s.rest) == 0 {
		return Case[I, R]{}, io.EOF
	}
	c := s.rest[0]
	s.rest = s.rest[1:]
	return c, nil
}

// Limit returns an iterator that stops after n cases of c. n <= 0 means no
// limit.
func Limit[I, R any](c Cases[I, R], n int) Cases[I, R] {
	if n <= 0 {
		return c
	}
	return &limitedCases[I, R]{cases: c, left: n}
}

type limitedCases[I, R any] struct {
	cases Cases[I, R]
	left  int
}

func (l *limitedCases[I, R]) Next() (Case[I, R], error) {
	if l.left <= 0 {
		return Case[I, R]{}, io.EOF
	}
	l.left--
	return l.cases.Next()
}
