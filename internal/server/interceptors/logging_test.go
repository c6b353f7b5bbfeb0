package interceptors

import (
	"bytes"
	"context"
	"net"
	"strings"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"ied-sentinel/internal/logging"
)

func TestClientIP(t *testing.T) {
	tcp := &net.TCPAddr{IP: net.ParseIP("10.0.0.9"), Port: 5555}
	tests := []struct {
		name string
		ctx  context.Context
		want string
	}{
		{"none", context.Background(), "unknown"},
		{"forwarded", metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-forwarded-for", "1.2.3.4, 5.6.7.8")), "1.2.3.4"},
		{"real ip", metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-real-ip", " 9.9.9.9 ")), "9.9.9.9"},
		{"peer", peer.NewContext(context.Background(), &peer.Peer{Addr: tcp}), "10.0.0.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClientIP(tt.ctx); got != tt.want {
				t.Errorf("ClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLoggingUnary(t *testing.T) {
	var buf bytes.Buffer
	log, err := logging.NewWithOutput(&buf, "debug", "text")
	if err != nil {
		t.Fatal(err)
	}
	icpt := LoggingUnary(log, map[string]bool{"/grpc.health.v1.Health/Check": true})

	ok := func(context.Context, interface{}) (interface{}, error) { return "ok", nil }
	resp, err := icpt(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/svc/Do"}, ok)
	if err != nil || resp != "ok" {
		t.Fatalf("resp = %v, err = %v", resp, err)
	}
	if !strings.Contains(buf.String(), "/svc/Do") {
		t.Errorf("log = %q, want method logged", buf.String())
	}

	buf.Reset()
	_, _ = icpt(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}, ok)
	if buf.Len() != 0 {
		t.Errorf("skipped method logged at debug: %q", buf.String())
	}

	buf.Reset()
	failing := func(context.Context, interface{}) (interface{}, error) {
		return nil, status.Error(codes.NotFound, "nope")
	}
	_, err = icpt(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}, failing)
	if status.Code(err) != codes.NotFound {
		t.Errorf("err = %v, want NotFound passed through", err)
	}
	if !strings.Contains(buf.String(), "NotFound") {
		t.Errorf("log = %q, want failure logged", buf.String())
	}
}
