package grpc

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"internship-chat/internal/observability"
)

const validateTokenMethod = "/auth.AuthService/ValidateToken"

var ErrInvalidToken = errors.New("invalid token")

// Identity is the authenticated caller as reported by the auth service.
type Identity struct {
	UserID string
	Role   string
}

// Dial opens a lazily connected, instrumented client connection.
func Dial(addr string) (*grpc.ClientConn, error) {
	return grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithUnaryInterceptor(observability.GRPCClientMetricsUnaryInterceptor()),
	)
}

// AuthClient validates bearer tokens against the auth service.
type AuthClient struct {
	conn    grpc.ClientConnInterface
	timeout time.Duration
}

// NewAuthClient constructs the wrapper.
func NewAuthClient(conn grpc.ClientConnInterface) *AuthClient {
	return &AuthClient{conn: conn, timeout: 3 * time.Second}
}

// ValidateToken verifies the token and returns the caller's id and role.
// The request is a StringValue holding the token; the reply is a Struct with
// valid, user_id and role fields.
func (a *AuthClient) ValidateToken(ctx context.Context, token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, ErrInvalidToken
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	reply := &structpb.Struct{}
	if err := a.conn.Invoke(ctx, validateTokenMethod, wrapperspb.String(token), reply); err != nil {
		return Identity{}, fmt.Errorf("validate token: %w", err)
	}

	fields := reply.GetFields()
	if !fields["valid"].GetBoolValue() {
		return Identity{}, ErrInvalidToken
	}
	userID := stringField(fields["user_id"])
	if userID == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{UserID: userID, Role: fields["role"].GetStringValue()}, nil
}

// user ids arrive as strings or, from older issuers, as numbers
func stringField(v *structpb.Value) string {
	switch kind := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return strings.TrimSpace(kind.StringValue)
	case *structpb.Value_NumberValue:
		if kind.NumberValue == 0 {
			return ""
		}
		return strconv.FormatFloat(kind.NumberValue, 'f', -1, 64)
	default:
		return ""
	}
}
