package llm

import "testing"

func TestExtractCallerInfoNameAndPurpose(t *testing.T) {
	name, purpose := ExtractCallerInfo("Hi this is John Smith calling about the invoice")
	if name == nil || *name != "John Smith" {
		t.Fatalf("name = %v", name)
	}
	if purpose == nil || *purpose != "the invoice" {
		t.Fatalf("purpose = %v", purpose)
	}
}

func TestExtractCallerInfoNoMatch(t *testing.T) {
	name, purpose := ExtractCallerInfo("mumble mumble")
	if name != nil {
		t.Fatalf("name = %v, want nil", name)
	}
	if purpose != nil {
		t.Fatalf("purpose = %v, want nil", purpose)
	}
}

func TestExtractCallerInfoHereVariant(t *testing.T) {
	name, _ := ExtractCallerInfo("Maria Lopez here, following up on the contract")
	if name == nil || *name != "Maria Lopez" {
		t.Fatalf("name = %v", name)
	}
}
