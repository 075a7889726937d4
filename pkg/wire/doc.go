// Package wire implements the zcs datagram codec.
//
// A datagram is an ASCII string of '#'-terminated fields. The first field
// is the numeric message type, the rest are positional:
//
//	2#                                   discovery
//	3#<service>#                         heartbeat
//	1#<service>#<name>;<value>#...#      notification
//	4#<service>#<ad name>#<ad value>#    advertisement
//
// Values must not contain '#' or ';'. Encode refuses them; Decode reports
// any framing problem as an errs.ErrMalformedMessage.
package wire
