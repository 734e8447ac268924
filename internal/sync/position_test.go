package sync

import "testing"

func TestParsePosition(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		want    Position
		wantErr bool
	}{
		{name: "empty", token: "", want: Position{}},
		{name: "watermark only", token: "1700000100.000100", want: Position{Watermark: "1700000100.000100"}},
		{
			name:  "in-flight window",
			token: "1700000100.000100|1700000300.000100|abc123",
			want:  Position{Watermark: "1700000100.000100", Pending: "1700000300.000100", PageCursor: "abc123"},
		},
		{
			name:  "in-flight from empty watermark",
			token: "|1700000300.000100|abc123",
			want:  Position{Pending: "1700000300.000100", PageCursor: "abc123"},
		},
		{name: "two parts", token: "a|b", wantErr: true},
		{name: "empty pending", token: "a||c", wantErr: true},
		{name: "empty page cursor", token: "a|b|", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePosition(tt.token)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParsePosition(%q) = %+v, want error", tt.token, got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestTokenRoundTrip(t *testing.T) {
	tokens := []string{
		"",
		"1700000100.000100",
		"1700000100.000100|1700000300.000100|abc123",
		"|1700000300.000100|abc123",
	}
	for _, token := range tokens {
		p, err := ParsePosition(token)
		if err != nil {
			t.Fatalf("ParsePosition(%q): %v", token, err)
		}
		if got := p.Token(); got != token {
			t.Errorf("round trip %q -> %q", token, got)
		}
	}
}

func TestAdvanceKeepsWatermarkMidWindow(t *testing.T) {
	p := Position{Watermark: "1700000100.000100"}

	next := p.advance("1700000300.000100", "page2")
	if next.Watermark != "1700000100.000100" {
		t.Errorf("watermark moved mid-window: %q", next.Watermark)
	}
	if next.Pending != "1700000300.000100" || next.PageCursor != "page2" {
		t.Errorf("got %+v", next)
	}

	// Second page of the same window is older; pending must not regress.
	next = next.advance("1700000200.000100", "page3")
	if next.Pending != "1700000300.000100" {
		t.Errorf("pending regressed to %q", next.Pending)
	}
}

func TestAdvanceCollapsesOnFinalPage(t *testing.T) {
	p := Position{Watermark: "1700000100.000100", Pending: "1700000300.000100", PageCursor: "page3"}

	next := p.advance("1700000150.000100", "")
	if next.Watermark != "1700000300.000100" {
		t.Errorf("watermark = %q, want collapsed pending", next.Watermark)
	}
	if next.InFlight() {
		t.Error("final page left position in flight")
	}
	if next.Token() != "1700000300.000100" {
		t.Errorf("token = %q", next.Token())
	}
}

func TestAdvanceEmptyFinalPageKeepsWatermark(t *testing.T) {
	p := Position{Watermark: "1700000100.000100"}
	next := p.advance("", "")
	if next.Watermark != "1700000100.000100" {
		t.Errorf("watermark = %q, want unchanged on empty page", next.Watermark)
	}
}
