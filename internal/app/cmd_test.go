package app

import "testing"

func TestParseCommand(t *testing.T) {
	cases := []struct {
		name string
		args []string
		want Command
	}{
		{"引数なしはserve", []string{}, CommandServe},
		{"serve指定", []string{"serve"}, CommandServe},
		{"worker指定", []string{"worker"}, CommandWorker},
		{"migrate指定", []string{"migrate"}, CommandMigrate},
		{"healthcheck指定", []string{"healthcheck"}, CommandHealthcheck},
		{"未知のコマンドはserve", []string{"unknown"}, CommandServe},
		{"後続引数は無視", []string{"worker", "extra"}, CommandWorker},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := ParseCommand(c.args); got != c.want {
				t.Errorf("ParseCommand(%v) = %q, want %q", c.args, got, c.want)
			}
		})
	}
}
