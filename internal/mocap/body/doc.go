// Package body defines the skeleton data model shared by every stage of
// the capture pipeline.
//
// Joints are addressed by JointType and stored in fixed-length arrays; the
// hierarchy, mirror and bind-direction tables are flat arrays indexed by
// the same enum. Positions are metres in a right-handed world frame with Y
// up and Z pointing away from the sensor. A user facing the sensor has
// their left hand at negative X.
//
// The identity rotation is the T-pose facing the sensor: arms along ±X,
// palms down, thumbs and feet pointing at the sensor (-Z).
package body
