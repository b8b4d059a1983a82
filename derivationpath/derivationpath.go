// Package derivationpath parses and formats BIP32 derivation paths such as "m/44'/60'/0'/0/0".
package derivationpath

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"
)

type StartingPoint int

const (
	tokenMaster    = 0x6D // char m
	tokenSeparator = 0x2F // char /
	tokenHardened  = 0x27 // char '
	tokenDot       = 0x2E // char .

	hardenedStart = 0x80000000 // 2^31
)

const (
	StartingPointMaster StartingPoint = iota + 1
	StartingPointCurrent
	StartingPointParent
)

// EthereumWalletRoot is the parent of every wallet account key.
const EthereumWalletRoot = "m/44'/60'/0'/0"

type parseFunc = func() error

type parser struct {
	r                    *strings.Reader
	f                    parseFunc
	pos                  int
	path                 []uint32
	start                StartingPoint
	currentToken         string
	currentTokenHardened bool
}

func newParser(path string) *parser {
	p := &parser{
		r:     strings.NewReader(path),
		start: StartingPointCurrent,
		path:  make([]uint32, 0),
	}

	p.f = p.parseStart

	return p
}

func (p *parser) resetCurrentToken() {
	p.currentToken = ""
	p.currentTokenHardened = false
}

func (p *parser) parse() (StartingPoint, []uint32, error) {
	for {
		err := p.f()
		if err == io.EOF {
			return p.start, p.path, nil
		}

		if err != nil {
			return p.start, p.path, fmt.Errorf("at position %d, %s", p.pos, err.Error())
		}
	}
}

func (p *parser) readByte() (byte, error) {
	b, err := p.r.ReadByte()
	if err != nil {
		return b, err
	}

	p.pos++

	return b, nil
}

func (p *parser) unreadByte() error {
	err := p.r.UnreadByte()
	if err != nil {
		return err
	}

	p.pos--

	return nil
}

func (p *parser) parseStart() error {
	b, err := p.readByte()
	if err != nil {
		return err
	}

	if b == tokenMaster {
		p.start = StartingPointMaster
		p.f = p.parseSeparator
		return nil
	}

	if b == tokenDot {
		b2, err := p.readByte()
		if err != nil {
			return err
		}

		p.f = p.parseSeparator
		if b2 == tokenDot {
			p.start = StartingPointParent
			return nil
		}

		p.start = StartingPointCurrent
		return p.unreadByte()
	}

	p.f = p.parseSegment

	return p.unreadByte()
}

func (p *parser) saveSegment() error {
	if len(p.currentToken) > 0 {
		i, err := strconv.ParseUint(p.currentToken, 10, 32)
		if err != nil {
			return err
		}

		if i >= hardenedStart {
			p.pos -= len(p.currentToken) - 1
			return fmt.Errorf("index must be lower than 2^31, got %d", i)
		}

		if p.currentTokenHardened {
			i += hardenedStart
		}

		p.path = append(p.path, uint32(i))
	}

	p.f = p.parseSegment
	p.resetCurrentToken()

	return nil
}

func (p *parser) parseSeparator() error {
	b, err := p.readByte()
	if err == io.EOF && len(p.currentToken) > 0 {
		// path ending with a hardened segment
		if newErr := p.saveSegment(); newErr != nil {
			return newErr
		}

		return err
	}

	if err != nil {
		return err
	}

	if b == tokenSeparator {
		return p.saveSegment()
	}

	return fmt.Errorf("expected %s, got %s", string(rune(tokenSeparator)), string(b))
}

func (p *parser) parseSegment() error {
	b, err := p.readByte()
	if err == io.EOF {
		if len(p.currentToken) == 0 {
			return fmt.Errorf("expected number, got EOF")
		}

		if newErr := p.saveSegment(); newErr != nil {
			return newErr
		}

		return err
	}

	if err != nil {
		return err
	}

	if len(p.currentToken) > 0 && b == tokenSeparator {
		return p.saveSegment()
	}

	if len(p.currentToken) > 0 && b == tokenHardened {
		p.currentTokenHardened = true
		p.f = p.parseSeparator
		return nil
	}

	if b < 0x30 || b > 0x39 {
		return fmt.Errorf("expected number, got %s", string(b))
	}

	p.currentToken += string(b)

	return nil
}

// Decode parses a textual derivation path into its starting point and segments.
func Decode(str string) (StartingPoint, []uint32, error) {
	p := newParser(str)
	return p.parse()
}

// Encode formats segments as a path relative to the given starting point.
func Encode(start StartingPoint, path []uint32) string {
	var prefix string
	switch start {
	case StartingPointMaster:
		prefix = "m"
	case StartingPointParent:
		prefix = ".."
	default:
		prefix = "."
	}

	segments := []string{prefix}
	for _, i := range path {
		suffix := ""
		if i >= hardenedStart {
			i -= hardenedStart
			suffix = "'"
		}
		segments = append(segments, fmt.Sprintf("%d%s", i, suffix))
	}

	return strings.Join(segments, "/")
}

// EncodeBytes returns the path segments as big endian uint32 values, the format expected by the card.
func EncodeBytes(path []uint32) ([]byte, error) {
	data := new(bytes.Buffer)
	for _, segment := range path {
		if err := binary.Write(data, binary.BigEndian, segment); err != nil {
			return nil, err
		}
	}

	return data.Bytes(), nil
}

// EthereumPath returns the wallet account path for the given address index.
func EthereumPath(component uint32) string {
	return fmt.Sprintf("%s/%d", EthereumWalletRoot, component)
}
