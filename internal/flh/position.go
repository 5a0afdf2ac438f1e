package flh

import "fmt"

// HeightForPosition maps a percentage of the travel range to a Height:
// 0% is MinHeight, 100% is MaxHeight, linear between, rounded to the
// nearest tenth of a millimeter.
func HeightForPosition(percent int) (Height, error) {
	if percent < 0 || percent > 100 {
		return 0, fmt.Errorf("%w: position %d%% out of range [0, 100]", ErrInvalidArgument, percent)
	}
	span := int(MaxHeight - MinHeight)
	return MinHeight + Height((span*percent+50)/100), nil
}

// PositionForHeight is the inverse mapping, rounded to the nearest percent.
// Heights outside the travel range report the nearest end; position is a
// view over Height, never stored on its own.
func PositionForHeight(h Height) int {
	if h <= MinHeight {
		return 0
	}
	if h >= MaxHeight {
		return 100
	}
	span := int(MaxHeight - MinHeight)
	return (int(h-MinHeight)*100 + span/2) / span
}
