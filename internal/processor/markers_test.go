package processor

import "testing"

func TestParseStepAnnouncement(t *testing.T) {
	cases := []struct {
		in       string
		wantIdx  int
		wantDesc string
		wantOK   bool
	}{
		{"Step 1: open page", 0, "open page", true},
		{"Step 2/5: click the login button", 1, "click the login button", true},
		{"step 10 : fill the form", 9, "fill the form", true},
		{"thinking about the page layout", 0, "", false},
		{"✅ Completed step 1: done", 0, "", false},
		{"Step zero: nope", 0, "", false},
		{"", 0, "", false},
	}
	for _, tc := range cases {
		idx, desc, ok := parseStepAnnouncement(tc.in)
		if ok != tc.wantOK {
			t.Fatalf("parseStepAnnouncement(%q) ok = %v, want %v", tc.in, ok, tc.wantOK)
		}
		if !ok {
			continue
		}
		if idx != tc.wantIdx || desc != tc.wantDesc {
			t.Fatalf("parseStepAnnouncement(%q) = (%d, %q), want (%d, %q)", tc.in, idx, desc, tc.wantIdx, tc.wantDesc)
		}
	}
}

func TestSuccessAndFailureMarkers(t *testing.T) {
	if !isSuccessMarker("✅ done") {
		t.Fatalf("checkmark not detected as success")
	}
	if !isSuccessMarker("step Finished without issues") {
		t.Fatalf("'finished' not detected as success")
	}
	if !isSuccessMarker("Completed the navigation") {
		t.Fatalf("'completed' not detected as success")
	}
	if isSuccessMarker("still working on it") {
		t.Fatalf("neutral text detected as success")
	}

	if !isFailureMarker("❌ could not click") {
		t.Fatalf("cross mark not detected as failure")
	}
	if !isFailureMarker("the click FAILED") {
		t.Fatalf("'failed' not detected as failure")
	}
	if !isFailureMarker("network error while loading") {
		t.Fatalf("'error' not detected as failure")
	}
	if isFailureMarker("scrolling down") {
		t.Fatalf("neutral text detected as failure")
	}
}

func TestCleanMarkerText(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"✅ Completed step 1: done", "done"},
		{"❌ Failed step 2: element not found", "element not found"},
		{"Finished step 3: form submitted", "form submitted"},
		{"✅ Completed step 4:", "✅ Completed step 4:"},
		{"plain result text", "plain result text"},
	}
	for _, tc := range cases {
		if got := cleanMarkerText(tc.in); got != tc.want {
			t.Fatalf("cleanMarkerText(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
