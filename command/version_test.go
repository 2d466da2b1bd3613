package command

import (
	"testing"

	"github.com/hashicorp/cli"

	"github.com/lionheart1022/betwatch/ci"
	"github.com/lionheart1022/betwatch/version"
)

func TestVersionCommand_implements(t *testing.T) {
	ci.Parallel(t)
	var _ cli.Command = &VersionCommand{}
}

func TestVersionCommand_Run(t *testing.T) {
	ci.Parallel(t)

	ui := cli.NewMockUi()
	cmd := &VersionCommand{
		Meta:    Meta{Ui: ui},
		Version: version.GetVersion(),
	}
	code := cmd.Run(nil)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if out := ui.OutputWriter.String(); len(out) == 0 {
		t.Fatal("expected version output")
	}
}
