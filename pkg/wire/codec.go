package wire

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/ryandielhenn/zcs/pkg/errs"
)

// Encode serializes m into its wire form. Fields that would break the
// framing (embedded delimiters, empty names, too many attributes) are
// rejected with errs.ErrInvalidArgument.
func Encode(m Message) ([]byte, error) {
	if isNil(m) {
		return nil, errs.NewInvalidArgument(fmt.Sprintf("nil message %T", m))
	}
	var b bytes.Buffer
	b.WriteString(strconv.Itoa(int(m.Type())))
	b.WriteByte(FieldSep)

	switch v := m.(type) {
	case Discovery, *Discovery:
	case Heartbeat:
		if err := writeName(&b, "service name", v.ServiceName); err != nil {
			return nil, err
		}
	case *Heartbeat:
		return Encode(*v)
	case Notification:
		if err := writeName(&b, "service name", v.ServiceName); err != nil {
			return nil, err
		}
		if err := ValidateAttributes(v.Attributes); err != nil {
			return nil, err
		}
		for _, a := range v.Attributes {
			b.WriteString(a.Name)
			b.WriteByte(PairSep)
			b.WriteString(a.Value)
			b.WriteByte(FieldSep)
		}
	case *Notification:
		return Encode(*v)
	case Advertisement:
		if err := writeName(&b, "service name", v.ServiceName); err != nil {
			return nil, err
		}
		if err := writeName(&b, "ad name", v.AdName); err != nil {
			return nil, err
		}
		if err := ValidateField("ad value", v.AdValue); err != nil {
			return nil, err
		}
		b.WriteString(v.AdValue)
		b.WriteByte(FieldSep)
	case *Advertisement:
		return Encode(*v)
	default:
		return nil, errs.NewInvalidArgument(fmt.Sprintf("unsupported message %T", m))
	}
	return b.Bytes(), nil
}

func isNil(m Message) bool {
	switch v := m.(type) {
	case nil:
		return true
	case *Discovery:
		return v == nil
	case *Heartbeat:
		return v == nil
	case *Notification:
		return v == nil
	case *Advertisement:
		return v == nil
	}
	return false
}

func writeName(b *bytes.Buffer, what, s string) error {
	if s == "" {
		return errs.NewInvalidArgument(what + " is required")
	}
	if err := ValidateField(what, s); err != nil {
		return err
	}
	b.WriteString(s)
	b.WriteByte(FieldSep)
	return nil
}

// Decode parses one datagram. Trailing NUL padding and the final field
// separator are ignored. Any framing problem yields errs.ErrMalformedMessage.
func Decode(raw []byte) (Message, error) {
	s := strings.TrimRight(string(raw), "\x00")
	if s == "" {
		return nil, errs.NewMalformed("empty message", nil)
	}
	s = strings.TrimSuffix(s, string(FieldSep))
	fields := strings.Split(s, string(FieldSep))

	code, err := strconv.Atoi(fields[0])
	if err != nil {
		return nil, errs.NewMalformed(fmt.Sprintf("type %q is not numeric", fields[0]), err)
	}
	t := MsgType(code)
	if !t.Valid() {
		return nil, errs.NewMalformed(fmt.Sprintf("unknown type %d", code), nil)
	}
	rest := fields[1:]

	switch t {
	case MsgDiscovery:
		if err := arity(t, rest, 0); err != nil {
			return nil, err
		}
		return Discovery{}, nil

	case MsgHeartbeat:
		if err := arity(t, rest, 1); err != nil {
			return nil, err
		}
		name, err := required(t, "service name", rest[0])
		if err != nil {
			return nil, err
		}
		return Heartbeat{ServiceName: name}, nil

	case MsgNotification:
		if len(rest) < 1 {
			return nil, errs.NewMalformed("notification: missing service name", nil)
		}
		name, err := required(t, "service name", rest[0])
		if err != nil {
			return nil, err
		}
		pairs := rest[1:]
		if len(pairs) > MaxAttributes {
			return nil, errs.NewMalformed(fmt.Sprintf("notification: %d attributes exceeds %d", len(pairs), MaxAttributes), nil)
		}
		n := Notification{ServiceName: name}
		for i, p := range pairs {
			k, v, ok := strings.Cut(p, string(PairSep))
			if !ok {
				return nil, errs.NewMalformed(fmt.Sprintf("notification: attribute %d has no %q", i, PairSep), nil)
			}
			if k == "" {
				return nil, errs.NewMalformed(fmt.Sprintf("notification: attribute %d has empty name", i), nil)
			}
			n.Attributes = append(n.Attributes, Attribute{Name: k, Value: v})
		}
		return n, nil

	case MsgAdvertisement:
		if err := arity(t, rest, 3); err != nil {
			return nil, err
		}
		name, err := required(t, "service name", rest[0])
		if err != nil {
			return nil, err
		}
		ad, err := required(t, "ad name", rest[1])
		if err != nil {
			return nil, err
		}
		return Advertisement{ServiceName: name, AdName: ad, AdValue: rest[2]}, nil
	}
	return nil, errs.NewMalformed(fmt.Sprintf("unknown type %d", code), nil)
}

func arity(t MsgType, fields []string, want int) error {
	switch {
	case len(fields) < want:
		return errs.NewMalformed(fmt.Sprintf("%s: want %d fields, got %d", t, want, len(fields)), nil)
	case len(fields) > want:
		return errs.NewMalformed(fmt.Sprintf("%s: unexpected trailing fields", t), nil)
	}
	return nil
}

func required(t MsgType, what, v string) (string, error) {
	if v == "" {
		return "", errs.NewMalformed(fmt.Sprintf("%s: empty %s", t, what), nil)
	}
	return v, nil
}

// ValidateField rejects values containing a protocol delimiter.
func ValidateField(what, s string) error {
	if strings.ContainsRune(s, FieldSep) || strings.ContainsRune(s, PairSep) {
		return errs.NewInvalidArgument(fmt.Sprintf("%s %q contains a reserved delimiter", what, s))
	}
	return nil
}

// ValidateName checks a node name: non-empty, at most MaxNameLen bytes, no
// delimiters.
func ValidateName(name string) error {
	if name == "" {
		return errs.NewInvalidArgument("node name is required")
	}
	if len(name) > MaxNameLen {
		return errs.NewInvalidArgument(fmt.Sprintf("node name is %d bytes, max %d", len(name), MaxNameLen))
	}
	return ValidateField("node name", name)
}

// ValidateAttributes checks the attribute count and every name and value.
func ValidateAttributes(attrs []Attribute) error {
	if len(attrs) > MaxAttributes {
		return errs.NewInvalidArgument(fmt.Sprintf("too many attributes: %d, max %d", len(attrs), MaxAttributes))
	}
	for _, a := range attrs {
		if a.Name == "" {
			return errs.NewInvalidArgument("attribute name is required")
		}
		if err := ValidateField("attribute name", a.Name); err != nil {
			return err
		}
		if err := ValidateField("attribute value", a.Value); err != nil {
			return err
		}
	}
	return nil
}
