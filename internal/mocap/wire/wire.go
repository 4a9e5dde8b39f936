// Package wire encodes and decodes the relay's comma-delimited text records.
//
//	kb,<relTs>,<bodyCount>,<jointCount>,{<tracked>,<id>,{<state>,<x>,<y>,<z>}*jointCount}*bodyCount
//	kh,<relTs>,<bodyCount>,{<tracked>,<id>,<leftHand>,<rightHand>}*bodyCount
//	km,<m00>,<m01>,...,<m33>
//
// Every body in a kb record carries all of its joint groups, tracked or
// not. The decoder also accepts the short form some relays send, where an
// untracked body is only "0,<id>". Decoders never panic on malformed input;
// they report false and leave the destination as it was.
package wire

import (
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/mocap/internal/mocap/body"
)

// Record prefixes.
const (
	KindBodies = "kb"
	KindHands  = "kh"
	KindMatrix = "km"
)

const sep = ","

// Kind returns the record prefix of line, or "" when there is none.
func Kind(line string) string {
	i := strings.IndexByte(line, ',')
	if i < 0 {
		return ""
	}
	return line[:i]
}

// EncodeBodies serialises bodies as a kb record. Joint positions are the
// raw positions, written with three decimals.
func EncodeBodies(relTime int64, bodies []body.TrackedBody) string {
	var sb strings.Builder
	sb.Grow(64 + len(bodies)*body.JointCount*24)
	sb.WriteString(KindBodies)
	sb.WriteString(sep)
	sb.WriteString(strconv.FormatInt(relTime, 10))
	sb.WriteString(sep)
	sb.WriteString(strconv.Itoa(len(bodies)))
	sb.WriteString(sep)
	sb.WriteString(strconv.Itoa(body.JointCount))

	for i := range bodies {
		b := &bodies[i]
		if b.Tracked {
			sb.WriteString(",1,")
		} else {
			sb.WriteString(",0,")
		}
		sb.WriteString(strconv.FormatInt(b.ID, 10))
		for j := 0; j < body.JointCount; j++ {
			js := &b.Joints[j]
			sb.WriteString(sep)
			sb.WriteString(strconv.Itoa(int(js.State)))
			writeFloat(&sb, js.Raw.X)
			writeFloat(&sb, js.Raw.Y)
			writeFloat(&sb, js.Raw.Z)
		}
	}
	return sb.String()
}

func writeFloat(sb *strings.Builder, v float64) {
	sb.WriteString(sep)
	sb.WriteString(strconv.FormatFloat(v, 'f', 3, 64))
}

// DecodeBodies parses a kb record into dst. Bodies beyond len(dst) are
// rejected. On success every body slot of dst is overwritten (slots not
// present in the record become untracked); on failure dst is unchanged.
func DecodeBodies(line string, dst []body.TrackedBody) (relTime int64, ok bool) {
	parts := strings.Split(strings.TrimSpace(line), sep)
	f := fields(parts)
	if f.next() != KindBodies {
		return 0, false
	}
	relTime = f.readInt64()
	bodyCount := f.readInt()
	jointCount := f.readInt()
	if f.err || bodyCount < 0 || bodyCount > len(dst) || jointCount < 0 || jointCount > body.JointCount {
		return 0, false
	}

	decoded, ok := decodeBodyGroups(fields(parts[f.pos:]), len(dst), bodyCount, jointCount, false)
	if !ok {
		decoded, ok = decodeBodyGroups(fields(parts[f.pos:]), len(dst), bodyCount, jointCount, true)
	}
	if !ok {
		return 0, false
	}
	copy(dst, decoded)
	return relTime, true
}

// decodeBodyGroups reads bodyCount body groups. With short set, untracked
// bodies have no joint groups.
func decodeBodyGroups(f *fieldReader, n, bodyCount, jointCount int, short bool) ([]body.TrackedBody, bool) {
	decoded := make([]body.TrackedBody, n)
	for i := 0; i < bodyCount; i++ {
		b := &decoded[i]
		b.Tracked = f.readInt() != 0
		b.ID = f.readInt64()
		if short && !b.Tracked {
			continue
		}
		for j := 0; j < jointCount; j++ {
			state := f.readInt()
			p := r3.Vec{X: f.readFloat(), Y: f.readFloat(), Z: f.readFloat()}
			if state < int(body.NotTracked) || state > int(body.Tracked) {
				return nil, false
			}
			b.SetJoint(body.JointType(j), p, body.TrackingState(state))
		}
	}
	if f.err || !f.done() {
		return nil, false
	}
	return decoded, true
}

// HandRecord is one body's entry in a kh record.
type HandRecord struct {
	Tracked bool
	ID      int64
	Left    body.HandState
	Right   body.HandState
}

// EncodeHands serialises the hand states of bodies as a kh record.
func EncodeHands(relTime int64, bodies []body.TrackedBody) string {
	var sb strings.Builder
	sb.WriteString(KindHands)
	sb.WriteString(sep)
	sb.WriteString(strconv.FormatInt(relTime, 10))
	sb.WriteString(sep)
	sb.WriteString(strconv.Itoa(len(bodies)))
	for i := range bodies {
		b := &bodies[i]
		tracked := 0
		if b.Tracked {
			tracked = 1
		}
		sb.WriteString(sep)
		sb.WriteString(strconv.Itoa(tracked))
		sb.WriteString(sep)
		sb.WriteString(strconv.FormatInt(b.ID, 10))
		sb.WriteString(sep)
		sb.WriteString(strconv.Itoa(int(b.LeftHand)))
		sb.WriteString(sep)
		sb.WriteString(strconv.Itoa(int(b.RightHand)))
	}
	return sb.String()
}

// DecodeHands parses a kh record.
func DecodeHands(line string) (relTime int64, hands []HandRecord, ok bool) {
	f := fields(strings.Split(strings.TrimSpace(line), sep))
	if f.next() != KindHands {
		return 0, nil, false
	}
	relTime = f.readInt64()
	n := f.readInt()
	if f.err || n < 0 || n > body.MaxBodies {
		return 0, nil, false
	}
	hands = make([]HandRecord, n)
	for i := range hands {
		hands[i].Tracked = f.readInt() != 0
		hands[i].ID = f.readInt64()
		l, r := f.readInt(), f.readInt()
		if l < int(body.HandUnknown) || l > int(body.HandLasso) || r < int(body.HandUnknown) || r > int(body.HandLasso) {
			return 0, nil, false
		}
		hands[i].Left, hands[i].Right = body.HandState(l), body.HandState(r)
	}
	if f.err || !f.done() {
		return 0, nil, false
	}
	return relTime, hands, true
}

// ApplyHands copies decoded hand states onto the tracked bodies with
// matching ids.
func ApplyHands(hands []HandRecord, bodies []body.TrackedBody) {
	for _, h := range hands {
		if !h.Tracked {
			continue
		}
		for i := range bodies {
			if bodies[i].Tracked && bodies[i].ID == h.ID {
				bodies[i].LeftHand, bodies[i].RightHand = h.Left, h.Right
			}
		}
	}
}

// EncodeMatrix serialises a sensor-to-world transform as a km record.
func EncodeMatrix(p body.SensorPose) string {
	var sb strings.Builder
	sb.WriteString(KindMatrix)
	for _, v := range p.T {
		sb.WriteString(sep)
		sb.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	return sb.String()
}

// DecodeMatrix parses a km record. The matrix must be a rigid transform.
func DecodeMatrix(line string) (body.SensorPose, bool) {
	f := fields(strings.Split(strings.TrimSpace(line), sep))
	if f.next() != KindMatrix {
		return body.SensorPose{}, false
	}
	var T [16]float64
	for i := range T {
		T[i] = f.readFloat()
	}
	if f.err || !f.done() {
		return body.SensorPose{}, false
	}
	pose, err := body.PoseFromMatrix(T)
	if err != nil {
		return body.SensorPose{}, false
	}
	return pose, true
}

// fieldReader walks a split record; any parse failure or overrun sets err
// and further reads return zero values.
type fieldReader struct {
	parts []string
	pos   int
	err   bool
}

func fields(parts []string) *fieldReader {
	return &fieldReader{parts: parts}
}

func (r *fieldReader) next() string {
	if r.err || r.pos >= len(r.parts) {
		r.err = true
		return ""
	}
	s := r.parts[r.pos]
	r.pos++
	return s
}

func (r *fieldReader) readInt() int {
	v, err := strconv.Atoi(r.next())
	if err != nil {
		r.err = true
	}
	return v
}

func (r *fieldReader) readInt64() int64 {
	v, err := strconv.ParseInt(r.next(), 10, 64)
	if err != nil {
		r.err = true
	}
	return v
}

func (r *fieldReader) readFloat() float64 {
	v, err := strconv.ParseFloat(r.next(), 64)
	if err != nil {
		r.err = true
	}
	return v
}

func (r *fieldReader) done() bool {
	return r.pos == len(r.parts)
}
