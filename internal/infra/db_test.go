package infra

import "testing"

func TestSplitSQL(t *testing.T) {
	in := "-- header\nCREATE TABLE a (id INT);\n\n  -- note\nCREATE INDEX i ON a (id);\n"
	stmts := splitSQL(stripSQLComments(in))
	if len(stmts) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(stmts), stmts)
	}
	if stmts[0] != "CREATE TABLE a (id INT)" {
		t.Errorf("unexpected first statement %q", stmts[0])
	}
}
