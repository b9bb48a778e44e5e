package device

import "testing"

func TestThresholdSetValidate(t *testing.T) {
	cases := []struct {
		name string
		t    ThresholdSet
		ok   bool
	}{
		{"valid", ThresholdSet{AH: 200, WH: 150, WL: 50, AL: 0}, true},
		{"equal bounds", ThresholdSet{AH: 100, WH: 100, WL: 100, AL: 100}, true},
		{"violates WH<=AH", ThresholdSet{AH: 200, WH: 210, WL: 50, AL: 40}, false},
		{"violates AL<=WL", ThresholdSet{AH: 200, WH: 150, WL: 50, AL: 60}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.t.Validate()
			if (err == nil) != c.ok {
				t.Fatalf("Validate(%+v) error = %v, want ok=%v", c.t, err, c.ok)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	thr := ThresholdSet{AH: 100, WH: 80, WL: 20, AL: 0}
	cases := []struct {
		r    int16
		want Band
	}{
		{150, BandAlarmHigh},
		{90, BandWarnHigh},
		{50, BandOK},
		{10, BandWarnLow},
		{-5, BandAlarmLow},
	}
	for _, c := range cases {
		if got := Classify(c.r, thr); got != c.want {
			t.Errorf("Classify(%d) = %v, want %v", c.r, got, c.want)
		}
	}
}

func TestThresholdMonotonicity(t *testing.T) {
	thr := ThresholdSet{AH: 100, WH: 80, WL: 20, AL: 0}
	state := OK
	rising := []int16{90, 150}
	wantRising := []Health{Warning, Alarm}
	for i, r := range rising {
		state = Transition(state, Classify(r, thr))
		if state != wantRising[i] {
			t.Fatalf("rising step %d: state = %v, want %v", i, state, wantRising[i])
		}
	}

	falling := []int16{10, 50}
	wantFalling := []Health{Recovery, OK}
	for i, r := range falling {
		state = Transition(state, Classify(r, thr))
		if state != wantFalling[i] {
			t.Fatalf("falling step %d: state = %v, want %v", i, state, wantFalling[i])
		}
	}
}

func TestUninitialisedNeverTransitionsFromReading(t *testing.T) {
	thr := ThresholdSet{AH: 100, WH: 80, WL: 20, AL: 0}
	if got := Transition(Uninitialised, Classify(150, thr)); got != Uninitialised {
		t.Fatalf("Transition(UNINITIALISED, AlarmHigh) = %v, want UNINITIALISED", got)
	}
}

func TestReInitialiseLeavesUninitialised(t *testing.T) {
	thr := ThresholdSet{AH: 100, WH: 80, WL: 20, AL: 0}
	if got := ReInitialise(50, thr); got != OK {
		t.Fatalf("ReInitialise(50) = %v, want OK", got)
	}
	if got := ReInitialise(150, thr); got != Alarm {
		t.Fatalf("ReInitialise(150) = %v, want ALARM", got)
	}
}

func TestAggregateWorstSeverity(t *testing.T) {
	cases := []struct {
		name string
		in   []Health
		want Health
	}{
		{"all uninitialised", []Health{Uninitialised, Uninitialised}, Uninitialised},
		{"mixed ok and warning", []Health{OK, Warning, OK}, Warning},
		{"alarm dominates", []Health{OK, Recovery, Alarm, Warning}, Alarm},
		{"recovery over warning", []Health{Warning, Recovery}, Recovery},
		{"ignores uninitialised channels", []Health{Uninitialised, OK}, OK},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Aggregate(c.in); got != c.want {
				t.Fatalf("Aggregate(%v) = %v, want %v", c.in, got, c.want)
			}
		})
	}
}

func TestGates(t *testing.T) {
	cases := map[Health]bool{
		OK:            true,
		Warning:       true,
		Alarm:         false,
		Recovery:      false,
		Uninitialised: false,
	}
	for h, want := range cases {
		if got := h.Gates(); got != want {
			t.Errorf("%v.Gates() = %v, want %v", h, got, want)
		}
	}
}
