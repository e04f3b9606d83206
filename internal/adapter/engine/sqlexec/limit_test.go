package sqlexec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppendLimit(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{
			name:  "bare select gets a limit",
			query: "SELECT * FROM users",
			want:  "SELECT * FROM users LIMIT 1000",
		},
		{
			name:  "trailing semicolon is stripped",
			query: "SELECT id FROM users;",
			want:  "SELECT id FROM users LIMIT 1000",
		},
		{
			name:  "existing limit is kept",
			query: "SELECT * FROM users LIMIT 5",
			want:  "SELECT * FROM users LIMIT 5",
		},
		{
			name:  "lowercase limit is detected",
			query: "select * from users limit 5",
			want:  "select * from users limit 5",
		},
		{
			name:  "non-select passes through",
			query: "UPDATE users SET name = 'x'",
			want:  "UPDATE users SET name = 'x'",
		},
		{
			name:  "leading whitespace select",
			query: "  \n select id from t",
			want:  "select id from t LIMIT 1000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AppendLimit(tt.query, 1000))
		})
	}
}

func TestInjectTop(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{
			name:  "bare select gets TOP",
			query: "SELECT * FROM users",
			want:  "SELECT TOP (1000) * FROM users",
		},
		{
			name:  "existing TOP is kept",
			query: "SELECT TOP 10 * FROM users",
			want:  "SELECT TOP 10 * FROM users",
		},
		{
			name:  "lowercase top is detected",
			query: "select top 10 * from users",
			want:  "select top 10 * from users",
		},
		{
			name:  "trailing semicolon is stripped",
			query: "SELECT name FROM users;",
			want:  "SELECT TOP (1000) name FROM users",
		},
		{
			name:  "non-select passes through",
			query: "DELETE FROM users WHERE id = 1",
			want:  "DELETE FROM users WHERE id = 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InjectTop(tt.query, 1000))
		})
	}
}
