package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/joho/godotenv"
)

func TestReadInstructionUsesAPIFieldNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instruction.yml")
	doc := `background: We sell CRM seats
goal: Book a demo
steps: [Greet, Qualify]
response_rules: [Be brief]
communication_style: friendly
file_rules: []
allowed_functions:
  - name: book_meeting
proactivity_level: high
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	instr, err := readInstruction(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if instr.Goal != "Book a demo" || len(instr.ResponseRules) != 1 || instr.AllowedFunctions[0].Name != "book_meeting" {
		t.Fatalf("unexpected instruction: %+v", instr)
	}
	if err := instr.Validate(); err != nil {
		t.Fatalf("decoded instruction should validate: %v", err)
	}
}

func TestSetEnvValueKeepsOtherEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("AGENTDESK_STORE=sqlite\nAGENTDESK_API_KEY=old\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := setEnvValue(path, "AGENTDESK_API_KEY", "new"); err != nil {
		t.Fatalf("set: %v", err)
	}
	env, err := godotenv.Read(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if env["AGENTDESK_API_KEY"] != "new" || env["AGENTDESK_STORE"] != "sqlite" {
		t.Fatalf("unexpected env: %v", env)
	}

	fresh := filepath.Join(t.TempDir(), "new.env")
	if err := setEnvValue(fresh, "AGENTDESK_API_KEY", "k"); err != nil {
		t.Fatalf("set on missing file: %v", err)
	}
}
