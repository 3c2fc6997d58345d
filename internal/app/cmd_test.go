package app

import (
	"testing"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want Command
	}{
		{"引数なしはserve", []string{}, CommandServe},
		{"serve", []string{"serve"}, CommandServe},
		{"migrate", []string{"migrate"}, CommandMigrate},
		{"seed", []string{"seed", "emilys"}, CommandSeed},
		{"healthcheck", []string{"healthcheck"}, CommandHealthcheck},
		{"未知のコマンドはserve", []string{"unknown"}, CommandServe},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseCommand(tt.args); got != tt.want {
				t.Errorf("ParseCommand(%v) = %q, want %q", tt.args, got, tt.want)
			}
		})
	}
}
