package body

import "gonum.org/v1/gonum/spatial/r3"

// tposeOffsets are canonical joint offsets from the pelvis of a 1.75 m
// user standing in the bind pose and facing the sensor.
var tposeOffsets = [JointCount]r3.Vec{
	SpineBase:     {},
	SpineMid:      {Y: 0.30},
	Neck:          {Y: 0.60},
	Head:          {Y: 0.75},
	ShoulderLeft:  {X: -0.20, Y: 0.50},
	ElbowLeft:     {X: -0.50, Y: 0.50},
	WristLeft:     {X: -0.75, Y: 0.50},
	HandLeft:      {X: -0.82, Y: 0.50},
	ShoulderRight: {X: 0.20, Y: 0.50},
	ElbowRight:    {X: 0.50, Y: 0.50},
	WristRight:    {X: 0.75, Y: 0.50},
	HandRight:     {X: 0.82, Y: 0.50},
	HipLeft:       {X: -0.10},
	KneeLeft:      {X: -0.10, Y: -0.45},
	AnkleLeft:     {X: -0.10, Y: -0.90},
	FootLeft:      {X: -0.10, Y: -0.90, Z: -0.12},
	HipRight:      {X: 0.10},
	KneeRight:     {X: 0.10, Y: -0.45},
	AnkleRight:    {X: 0.10, Y: -0.90},
	FootRight:     {X: 0.10, Y: -0.90, Z: -0.12},
	SpineShoulder: {Y: 0.50},
	HandTipLeft:   {X: -0.92, Y: 0.50},
	ThumbLeft:     {X: -0.82, Y: 0.50, Z: -0.06},
	HandTipRight:  {X: 0.92, Y: 0.50},
	ThumbRight:    {X: 0.82, Y: 0.50, Z: -0.06},
}

// TPoseOffset returns j's bind-pose offset from the pelvis. Composites
// report their source joint's offset.
func TPoseOffset(j JointType) r3.Vec {
	if j.IsComposite() {
		j = j.Child()
	}
	if !j.Valid() {
		return r3.Vec{}
	}
	return tposeOffsets[j]
}

// TPose returns a fully tracked body in the bind pose with its pelvis at
// pelvis.
func TPose(id int64, pelvis r3.Vec) TrackedBody {
	b := TrackedBody{ID: id, Tracked: true, LeftHand: HandOpen, RightHand: HandOpen}
	for j := JointType(0); j < JointCount; j++ {
		b.SetJoint(j, r3.Add(pelvis, tposeOffsets[j]), Tracked)
	}
	return b
}
