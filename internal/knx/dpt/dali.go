package dpt

import "fmt"

// The bit layouts below for 238.600, 245.600 and 250.600 aren't spelled
// out by the registry's source material beyond "bit-packed status/control
// fields"; this file fixes one concrete, internally-consistent layout for
// each so encode/decode round-trip exactly.

func init() {
	register(Entry{Tag: Tag(238, 600), Name: "DALI status", Length: 1, Encode: encodeDALIStatus, Decode: decodeDALIStatus})
	register(Entry{Tag: Tag(245, 600), Name: "DALI converter test result", Length: 3, Encode: encodeDALITestResult, Decode: decodeDALITestResult})
	register(Entry{Tag: Tag(250, 600), Name: "brightness + colour temperature control", Length: 3, Encode: encodeBrightnessCT, Decode: decodeBrightnessCT})
}

// DALIStatus is the DPT 238.600 value shape: one status byte reporting
// ballast/lamp condition flags.
type DALIStatus struct {
	BallastFailure      bool
	LampFailure         bool
	LampArcPowerOn      bool
	CurrentLimitReached bool
	ThermalShutdown     bool
	ThermalOverload     bool
	HardwiredSwitchOn   bool
}

func encodeDALIStatus(value any) ([]byte, error) {
	v, ok := value.(DALIStatus)
	if !ok {
		return nil, fmt.Errorf("%w: DPT238.600 expects DALIStatus, got %T", ErrInvalidValue, value)
	}
	var b byte
	if v.BallastFailure {
		b |= 0x01
	}
	if v.LampFailure {
		b |= 0x02
	}
	if v.LampArcPowerOn {
		b |= 0x04
	}
	if v.CurrentLimitReached {
		b |= 0x08
	}
	if v.ThermalShutdown {
		b |= 0x10
	}
	if v.ThermalOverload {
		b |= 0x20
	}
	if v.HardwiredSwitchOn {
		b |= 0x40
	}
	return []byte{b}, nil
}

func decodeDALIStatus(data []byte) (any, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("%w: DPT238.600 requires 1 byte, got %d", ErrInvalidPayload, len(data))
	}
	b := data[0]
	return DALIStatus{
		BallastFailure:      b&0x01 != 0,
		LampFailure:         b&0x02 != 0,
		LampArcPowerOn:      b&0x04 != 0,
		CurrentLimitReached: b&0x08 != 0,
		ThermalShutdown:     b&0x10 != 0,
		ThermalOverload:     b&0x20 != 0,
		HardwiredSwitchOn:   b&0x40 != 0,
	}, nil
}

// DALITestResult is the DPT 245.600 value shape: a status byte plus a
// 16-bit test duration in minutes.
type DALITestResult struct {
	TestInProgress bool
	TestFailed     bool
	FaultDetected  bool
	DurationMin    uint16
}

func encodeDALITestResult(value any) ([]byte, error) {
	v, ok := value.(DALITestResult)
	if !ok {
		return nil, fmt.Errorf("%w: DPT245.600 expects DALITestResult, got %T", ErrInvalidValue, value)
	}
	var b byte
	if v.TestInProgress {
		b |= 0x01
	}
	if v.TestFailed {
		b |= 0x02
	}
	if v.FaultDetected {
		b |= 0x04
	}
	return []byte{b, byte(v.DurationMin >> 8), byte(v.DurationMin)}, nil
}

func decodeDALITestResult(data []byte) (any, error) {
	if len(data) < 3 {
		return nil, fmt.Errorf("%w: DPT245.600 requires 3 bytes, got %d", ErrInvalidPayload, len(data))
	}
	return DALITestResult{
		TestInProgress: data[0]&0x01 != 0,
		TestFailed:     data[0]&0x02 != 0,
		FaultDetected:  data[0]&0x04 != 0,
		DurationMin:    uint16(data[1])<<8 | uint16(data[2]),
	}, nil
}

// BrightnessCTControl is the DPT 250.600 value shape: independent step
// controls for brightness and colour temperature plus a validity flag
// for each.
type BrightnessCTControl struct {
	ColourTemp      StepControl
	Brightness      StepControl
	ColourTempValid bool
	BrightnessValid bool
}

func encodeBrightnessCT(value any) ([]byte, error) {
	v, ok := value.(BrightnessCTControl)
	if !ok {
		return nil, fmt.Errorf("%w: DPT250.600 expects BrightnessCTControl, got %T", ErrInvalidValue, value)
	}
	ctByte, err := encodeStepControlByte(v.ColourTemp)
	if err != nil {
		return nil, err
	}
	brByte, err := encodeStepControlByte(v.Brightness)
	if err != nil {
		return nil, err
	}
	var valid byte
	if v.ColourTempValid {
		valid |= 0x02
	}
	if v.BrightnessValid {
		valid |= 0x01
	}
	return []byte{ctByte, brByte, valid}, nil
}

func decodeBrightnessCT(data []byte) (any, error) {
	if len(data) < 3 {
		return nil, fmt.Errorf("%w: DPT250.600 requires 3 bytes, got %d", ErrInvalidPayload, len(data))
	}
	return BrightnessCTControl{
		ColourTemp:      decodeStepControlByte(data[0]),
		Brightness:      decodeStepControlByte(data[1]),
		ColourTempValid: data[2]&0x02 != 0,
		BrightnessValid: data[2]&0x01 != 0,
	}, nil
}

func encodeStepControlByte(s StepControl) (byte, error) {
	if s.StepCode > 0x07 {
		return 0, fmt.Errorf("%w: DPT250.600 step code must be 0-7, got %d", ErrInvalidValue, s.StepCode)
	}
	var b byte
	if s.Control {
		b |= 0x08
	}
	return b | (s.StepCode & 0x07), nil
}

func decodeStepControlByte(b byte) StepControl {
	return StepControl{Control: b&0x08 != 0, StepCode: b & 0x07}
}
