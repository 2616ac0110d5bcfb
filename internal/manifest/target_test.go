package manifest

import "testing"

func TestParseTargetXMLRADec(t *testing.T) {
	xml := `<target system="RADEC" name="NGC1333" ra="3.5" dec="0.55" epoch="J2000"/>`
	tgt, err := ParseTargetXMLString(xml)
	if err != nil {
		t.Fatalf("ParseTargetXMLString: %v", err)
	}
	if tgt.System != "RADEC" || tgt.Name != "NGC1333" || tgt.RA != 3.5 || tgt.Dec != 0.55 {
		t.Fatalf("unexpected target: %+v", tgt)
	}
}

func TestParseTargetXMLCurrentAz(t *testing.T) {
	xml := `<target currentAz="true"/>`
	tgt, err := ParseTargetXMLString(xml)
	if err != nil {
		t.Fatalf("ParseTargetXMLString: %v", err)
	}
	if !tgt.CurrentAz {
		t.Fatalf("expected CurrentAz, got %+v", tgt)
	}
}

func TestParseTargetXMLRejectsMissingSystem(t *testing.T) {
	xml := `<target name="bare"/>`
	if _, err := ParseTargetXMLString(xml); err == nil {
		t.Fatal("expected error for target xml with no system and no az markers")
	}
}

func TestParseTargetXMLRejectsMalformed(t *testing.T) {
	if _, err := ParseTargetXMLString("<target"); err == nil {
		t.Fatal("expected error for malformed target xml")
	}
}
