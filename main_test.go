// ./main_test.go
package main

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/rulecheck/cmd"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"Success", nil, 0},
		{"Coverage problems", &cmd.ExitCodeError{Code: 1}, 1},
		{"Wrapped exit code", fmt.Errorf("run: %w", &cmd.ExitCodeError{Code: 3}), 3},
		{"Interrupted", fmt.Errorf("comparison interrupted: %w", context.Canceled), 0},
		{"Failure", errors.New("boom"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}
