package obs

import (
	"bytes"
	"context"
	"errors"
	"log"
	"os"
	"strings"
	"testing"
)

func TestTimeLogsRequestIDAndError(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	ctx := WithRequestID(context.Background(), "r-42")
	err := errors.New("boom")
	Time(ctx, "plan.run")(&err)
	Time(ctx, "plan.ok")(nil)

	out := buf.String()
	if !strings.Contains(out, "req_id=r-42 op=plan.run") || !strings.Contains(out, "err=boom") {
		t.Fatalf("unexpected log: %q", out)
	}
	if !strings.Contains(out, "op=plan.ok dur=") {
		t.Fatalf("missing success line: %q", out)
	}
}
