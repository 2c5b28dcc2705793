package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/creat233/finderid/internal/client/models"
	"github.com/creat233/finderid/internal/common"
	"github.com/creat233/finderid/internal/dataapi"
	"github.com/creat233/finderid/internal/netx"
)

const defaultCallTimeout = 12 * time.Second

type GRPCClient struct {
	endpointURL string
	conn        *grpc.ClientConn
	api         dataapi.DataServiceClient
	health      healthpb.HealthClient
	http        *http.Client
	callTimeout time.Duration

	mu           sync.RWMutex
	accessToken  string
	refreshToken string
}

type Option func(*GRPCClient)

// WithCallTimeout bounds every unary call that has no earlier deadline.
func WithCallTimeout(d time.Duration) Option {
	return func(c *GRPCClient) { c.callTimeout = d }
}

// WithHTTPClient sets the client used for presigned uploads.
func WithHTTPClient(h *http.Client) Option {
	return func(c *GRPCClient) { c.http = h }
}

func NewGRPCClient(endpointURL string, opts ...Option) (*GRPCClient, error) {
	c := &GRPCClient{
		endpointURL: endpointURL,
		callTimeout: defaultCallTimeout,
		http:        &http.Client{Timeout: time.Minute},
	}
	for _, o := range opts {
		o(c)
	}

	conn, err := grpc.NewClient(endpointURL,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithChainUnaryInterceptor(c.timeoutInterceptor, c.accessTokenInterceptor),
	)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpointURL, err)
	}
	c.conn = conn
	c.api = dataapi.NewDataServiceClient(conn)
	c.health = healthpb.NewHealthClient(conn)
	return c, nil
}

func (c *GRPCClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Set(common.AccessTokenHeaderName, token)
	return metadata.NewOutgoingContext(ctx, md)
}

func (c *GRPCClient) timeoutInterceptor(
	ctx context.Context,
	method string,
	req, reply any,
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	if _, ok := ctx.Deadline(); !ok && c.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}
	return invoker(ctx, method, req, reply, cc, opts...)
}

// accessTokenInterceptor attaches the access token and, when the server
// reports it expired, refreshes the pair once and retries the call.
func (c *GRPCClient) accessTokenInterceptor(
	ctx context.Context,
	method string,
	req, reply any,
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	session := c.Session()

	err := invoker(withAccessToken(ctx, session.AccessToken), method, req, reply, cc, opts...)
	if err == nil {
		return nil
	}

	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.Unauthenticated || st.Message() != common.ErrTokenExpired.Error() {
		return err
	}
	if session.RefreshToken == "" || method == dataapi.MethodRefreshToken {
		return err
	}

	resp, err := c.api.RefreshToken(ctx, &dataapi.RefreshTokenRequest{RefreshToken: session.RefreshToken})
	if err != nil {
		return err
	}
	c.Restore(Session{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken})

	return invoker(withAccessToken(ctx, resp.AccessToken), method, req, reply, cc, opts...)
}

func (c *GRPCClient) Session() Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Session{AccessToken: c.accessToken, RefreshToken: c.refreshToken}
}

func (c *GRPCClient) Restore(s Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = s.AccessToken
	c.refreshToken = s.RefreshToken
}

func (c *GRPCClient) Logout() {
	c.Restore(Session{})
}

func (c *GRPCClient) Ping(ctx context.Context) error {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: dataapi.ServiceName})
	if err != nil {
		return c.mapError(err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return ErrUnavailable
	}
	return nil
}

func (c *GRPCClient) Register(ctx context.Context, email, password, fullName string) (string, error) {
	resp, err := c.api.Register(ctx, &dataapi.RegisterRequest{Email: email, Password: password, FullName: fullName})
	if err != nil {
		return "", c.mapError(err)
	}
	return resp.UserID, nil
}

func (c *GRPCClient) Login(ctx context.Context, email, password string) (models.User, error) {
	resp, err := c.api.Login(ctx, &dataapi.LoginRequest{Email: email, Password: password})
	if err != nil {
		return models.User{}, c.mapError(err)
	}
	c.Restore(Session{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken})
	return toUser(resp.User), nil
}

func (c *GRPCClient) CurrentUser(ctx context.Context) (models.User, error) {
	if c.Session().AccessToken == "" {
		return models.User{}, ErrUnauthorized
	}
	resp, err := c.api.CurrentUser(ctx, &dataapi.CurrentUserRequest{})
	if err != nil {
		return models.User{}, c.mapError(err)
	}
	return toUser(resp.User), nil
}

func toUser(u dataapi.User) models.User {
	return models.User{ID: u.ID, Email: u.Email, FullName: u.FullName, CreatedAt: u.CreatedAt}
}

func (c *GRPCClient) Insert(ctx context.Context, collection string, records []json.RawMessage) ([]json.RawMessage, error) {
	resp, err := c.api.Insert(ctx, &dataapi.InsertRequest{Collection: collection, Records: records})
	if err != nil {
		return nil, c.mapError(err)
	}
	return resp.Records, nil
}

func (c *GRPCClient) Update(ctx context.Context, collection, id string, patch json.RawMessage) (json.RawMessage, error) {
	resp, err := c.api.Update(ctx, &dataapi.UpdateRequest{Collection: collection, ID: id, Patch: patch})
	if err != nil {
		return nil, c.mapError(err)
	}
	return resp.Record, nil
}

func (c *GRPCClient) Delete(ctx context.Context, collection, id string) error {
	if _, err := c.api.Delete(ctx, &dataapi.DeleteRequest{Collection: collection, ID: id}); err != nil {
		return c.mapError(err)
	}
	return nil
}

func (c *GRPCClient) Select(ctx context.Context, collection string, q Query) ([]json.RawMessage, error) {
	resp, err := c.api.Select(ctx, &dataapi.SelectRequest{
		Collection: collection,
		Filter:     q.Filter,
		Order:      q.Order,
		Desc:       q.Desc,
		Limit:      q.Limit,
	})
	if err != nil {
		return nil, c.mapError(err)
	}
	return resp.Records, nil
}

func (c *GRPCClient) Increment(ctx context.Context, collection, id, field string) error {
	if _, err := c.api.Increment(ctx, &dataapi.IncrementRequest{Collection: collection, ID: id, Field: field}); err != nil {
		return c.mapError(err)
	}
	return nil
}

func (c *GRPCClient) Upload(ctx context.Context, bucket, path string, blob []byte) (string, error) {
	contentType := http.DetectContentType(blob)

	resp, err := c.api.Upload(ctx, &dataapi.UploadRequest{Bucket: bucket, Path: path, ContentType: contentType})
	if err != nil {
		return "", c.mapError(err)
	}

	if err := netx.UploadToPresignedURL(ctx, c.http, resp.UploadURL, contentType, blob); err != nil {
		return "", fmt.Errorf("upload %s/%s: %w", bucket, path, err)
	}
	return resp.PublicURL, nil
}

func (c *GRPCClient) Remove(ctx context.Context, bucket, path string) error {
	if _, err := c.api.Remove(ctx, &dataapi.RemoveRequest{Bucket: bucket, Path: path}); err != nil {
		return c.mapError(err)
	}
	return nil
}

func (c *GRPCClient) mapError(err error) error {
	if err == nil {
		return nil
	}
	st, _ := status.FromError(err)
	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		return ErrUnauthorized
	case codes.Unavailable, codes.DeadlineExceeded:
		return ErrUnavailable
	case codes.NotFound:
		return common.ErrorNotFound
	case codes.AlreadyExists:
		return common.ErrorAlreadyExists
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", common.ErrorValidation, st.Message())
	default:
		return fmt.Errorf("rpc error: %w", err)
	}
}
