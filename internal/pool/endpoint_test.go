package pool

import (
	"errors"
	"reflect"
	"testing"
)

func TestParseEndpoints(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []Endpoint
		wantErr bool
	}{
		{
			name:  "Default host",
			input: "127.0.0.1:10017",
			want:  []Endpoint{{Host: "127.0.0.1", Port: 10017}},
		},
		{
			name:  "Several hosts with spaces",
			input: "node1:10017, node2:10018 ,node3:10019",
			want: []Endpoint{
				{Host: "node1", Port: 10017},
				{Host: "node2", Port: 10018},
				{Host: "node3", Port: 10019},
			},
		},
		{
			name:  "IPv6",
			input: "[::1]:10017",
			want:  []Endpoint{{Host: "::1", Port: 10017}},
		},
		{
			name:  "Duplicates are kept",
			input: "a:1,a:1",
			want:  []Endpoint{{Host: "a", Port: 1}, {Host: "a", Port: 1}},
		},
		{name: "Empty", input: "", wantErr: true},
		{name: "Trailing comma", input: "a:1,", wantErr: true},
		{name: "Missing port", input: "localhost", wantErr: true},
		{name: "Missing host", input: ":10017", wantErr: true},
		{name: "Non-numeric port", input: "localhost:http", wantErr: true},
		{name: "Port out of range", input: "localhost:70000", wantErr: true},
		{name: "Port zero", input: "localhost:0", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEndpoints(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseEndpoints() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidEndpoint) {
					t.Errorf("ParseEndpoints() error = %v, want %v", err, ErrInvalidEndpoint)
				}
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseEndpoints() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEndpointString(t *testing.T) {
	tests := []struct {
		endpoint Endpoint
		want     string
	}{
		{Endpoint{Host: "127.0.0.1", Port: 10017}, "127.0.0.1:10017"},
		{Endpoint{Host: "::1", Port: 10017}, "[::1]:10017"},
	}

	for _, tt := range tests {
		if got := tt.endpoint.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
