package main

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRootCmd_RejectsBadArguments(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "zero steps", args: []string{"steps", "0"}, wantErr: "non-zero integer"},
		{name: "non-numeric steps", args: []string{"steps", "many"}, wantErr: "non-zero integer"},
		{name: "non-numeric force", args: []string{"force", "latest"}, wantErr: "non-negative integer"},
		{name: "up takes no arguments", args: []string{"up", "extra"}, wantErr: "unknown command"},
		{name: "unknown command", args: []string{"sideways"}, wantErr: "unknown command"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newRootCmd()
			cmd.SetOut(io.Discard)
			cmd.SetErr(io.Discard)
			cmd.SetArgs(tt.args)
			assert.ErrorContains(t, cmd.Execute(), tt.wantErr)
		})
	}
}
