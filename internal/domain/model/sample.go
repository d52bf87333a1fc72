// Package model contains domain models passed between layers.
package model

import "time"

// Eye is a detected eye center in image pixels. Both fields are nil when the
// eye was not detected in the frame.
type Eye struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

// Point2 is an (x, y) pair.
type Point2 [2]float64

// Analysis is what the frame analyzer extracts from one frame.
type Analysis struct {
	EyeCenters []Point2
	EAR        *float64
	Blink      *bool
	PupilSize  *float64
}

// BothEyes reports whether at least two eye centers were detected.
func (a Analysis) BothEyes() bool { return len(a.EyeCenters) >= 2 }

// Centroid averages the detected eye centers.
func (a Analysis) Centroid() (Point2, bool) {
	if len(a.EyeCenters) == 0 {
		return Point2{}, false
	}
	var sx, sy float64
	for _, c := range a.EyeCenters {
		sx += c[0]
		sy += c[1]
	}
	n := float64(len(a.EyeCenters))
	return Point2{sx / n, sy / n}, true
}

// Sample is one captured frame's worth of eye-tracking telemetry.
type Sample struct {
	SessionUID string   `json:"session_uid"`
	Timestamp  float64  `json:"timestamp"`
	LeftEye    Eye      `json:"left_eye"`
	RightEye   Eye      `json:"right_eye"`
	EAR        *float64 `json:"ear"`
	Blink      *bool    `json:"blink"`
	PupilSize  *float64 `json:"pupil_size"`
}

// NewSample builds a Sample from an analysis. The first detected center is
// the left eye, the second the right eye.
func NewSample(sessionUID string, at time.Time, a Analysis) Sample {
	s := Sample{
		SessionUID: sessionUID,
		Timestamp:  float64(at.UnixNano()) / float64(time.Second),
		EAR:        a.EAR,
		Blink:      a.Blink,
		PupilSize:  a.PupilSize,
	}
	if len(a.EyeCenters) > 0 {
		s.LeftEye = eyeAt(a.EyeCenters[0])
	}
	if len(a.EyeCenters) > 1 {
		s.RightEye = eyeAt(a.EyeCenters[1])
	}
	return s
}

func eyeAt(p Point2) Eye {
	x, y := p[0], p[1]
	return Eye{X: &x, Y: &y}
}
