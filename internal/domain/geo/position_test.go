package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPosition_Validate(t *testing.T) {
	nan := math.NaN()
	inf := math.Inf(1)

	tests := []struct {
		name    string
		pos     Position
		wantErr bool
	}{
		{name: "valid", pos: Position{Latitude: 4.05, Longitude: 9.77, Accuracy: 12, Altitude: Float(13)}},
		{name: "poles and antimeridian", pos: Position{Latitude: -90, Longitude: 180}},
		{name: "latitude out of range", pos: Position{Latitude: 95, Longitude: 9}, wantErr: true},
		{name: "longitude out of range", pos: Position{Latitude: 4, Longitude: -181}, wantErr: true},
		{name: "negative accuracy", pos: Position{Latitude: 4, Longitude: 9, Accuracy: -1}, wantErr: true},
		{name: "nan latitude", pos: Position{Latitude: nan, Longitude: 9}, wantErr: true},
		{name: "nan longitude", pos: Position{Latitude: 4, Longitude: nan}, wantErr: true},
		{name: "infinite longitude", pos: Position{Latitude: 4, Longitude: -inf}, wantErr: true},
		{name: "nan accuracy", pos: Position{Latitude: 4, Longitude: 9, Accuracy: nan}, wantErr: true},
		{name: "infinite accuracy", pos: Position{Latitude: 4, Longitude: 9, Accuracy: inf}, wantErr: true},
		{name: "nan altitude", pos: Position{Latitude: 4, Longitude: 9, Altitude: Float(nan)}, wantErr: true},
		{name: "infinite speed", pos: Position{Latitude: 4, Longitude: 9, Speed: Float(inf)}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.pos.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPosition)
				return
			}
			assert.NoError(t, err)
		})
	}
}
