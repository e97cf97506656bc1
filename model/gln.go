package model

import "errors"

// GlobalLocationNumber is the 13 digit GS1 location number identifying a
// market operator. The last digit is a mod-10 check digit.
type GlobalLocationNumber string

const glnLength = 13

var errInvalidGLN = errors.New("must be a 13 digit global location number with a valid check digit")

// Validate implements validation.Validatable.
func (g GlobalLocationNumber) Validate() error {
	s := string(g)
	if len(s) != glnLength {
		return errInvalidGLN
	}
	sum := 0
	for i := 0; i < glnLength-1; i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return errInvalidGLN
		}
		d := int(c - '0')
		if i%2 == 1 {
			d *= 3
		}
		sum += d
	}
	last := s[glnLength-1]
	if last < '0' || last > '9' {
		return errInvalidGLN
	}
	if int(last-'0') != (10-sum%10)%10 {
		return errInvalidGLN
	}
	return nil
}

func (g GlobalLocationNumber) String() string {
	return string(g)
}
