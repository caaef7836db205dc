package types

import "testing"

func TestParseTargetDecodesBareStringHookAsSuccess(t *testing.T) {
	target, err := ParseTarget([]byte(`{
		"type": "executable",
		"name": "app",
		"buildCommand": "go build",
		"watchPaths": ["."],
		"outputPath": "app",
		"postBuildHooks": ["echo done"]
	}`))
	if err != nil {
		t.Fatalf("ParseTarget: %v", err)
	}
	if len(target.PostBuildHooks) != 1 {
		t.Fatalf("expected 1 hook, got %d", len(target.PostBuildHooks))
	}
	hook := target.PostBuildHooks[0]
	if hook.Command != "echo done" || hook.RunOn != RunOnSuccess {
		t.Fatalf("expected {echo done, success}, got %+v", hook)
	}
}

func TestParseTargetDecodesObjectHookWithExplicitRunOn(t *testing.T) {
	target, err := ParseTarget([]byte(`{
		"type": "executable",
		"name": "app",
		"buildCommand": "go build",
		"watchPaths": ["."],
		"outputPath": "app",
		"postBuildHooks": [{"command": "notify-failure", "runOn": "failure"}]
	}`))
	if err != nil {
		t.Fatalf("ParseTarget: %v", err)
	}
	hook := target.PostBuildHooks[0]
	if hook.Command != "notify-failure" || hook.RunOn != RunOnFailure {
		t.Fatalf("expected {notify-failure, failure}, got %+v", hook)
	}
}

func TestPostBuildHookMatches(t *testing.T) {
	cases := []struct {
		runOn   string
		success bool
		want    bool
	}{
		{RunOnSuccess, true, true},
		{RunOnSuccess, false, false},
		{RunOnFailure, false, true},
		{RunOnFailure, true, false},
		{RunOnAlways, true, true},
		{RunOnAlways, false, true},
		{"", true, true},
		{"", false, false},
	}
	for _, c := range cases {
		hook := PostBuildHook{Command: "x", RunOn: c.runOn}
		if got := hook.Matches(c.success); got != c.want {
			t.Errorf("Matches(runOn=%q, success=%v) = %v, want %v", c.runOn, c.success, got, c.want)
		}
	}
}
