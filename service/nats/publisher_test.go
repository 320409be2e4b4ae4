package nats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAlertSubject(t *testing.T) {
	tests := []struct {
		name   string
		wallet string
		want   string
	}{
		{
			name:   "wallet address",
			wallet: "4Nd1mYQX4p1R2QpsjUvGUJwnmcVi5PXjLqcqmmQJYuWG",
			want:   "scans.4Nd1mYQX4p1R2QpsjUvGUJwnmcVi5PXjLqcqmmQJYuWG",
		},
		{
			name:   "empty wallet uses placeholder",
			wallet: "",
			want:   "scans.unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, alertSubject(tt.wallet))
		})
	}
}
