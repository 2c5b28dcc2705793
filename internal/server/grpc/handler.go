package grpc

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/creat233/finderid/internal/dataapi"
	"github.com/creat233/finderid/internal/server/models"
	"github.com/creat233/finderid/internal/server/services"
)

type UserService interface {
	Register(ctx context.Context, email, password, fullName string) (*models.User, error)
	Login(ctx context.Context, email, password string) (*models.User, *services.TokenPair, error)
	RefreshToken(ctx context.Context, refreshToken string) (*services.TokenPair, error)
	CurrentUser(ctx context.Context, userID string) (*models.User, error)
}

type RowService interface {
	Insert(ctx context.Context, userID, collection string, records []json.RawMessage) ([]json.RawMessage, error)
	Update(ctx context.Context, userID, collection, id string, patch json.RawMessage) (json.RawMessage, error)
	Delete(ctx context.Context, userID, collection, id string) error
	Select(ctx context.Context, userID string, req *dataapi.SelectRequest) ([]json.RawMessage, error)
	Increment(ctx context.Context, collection, id, field string) (int64, error)
}

type StorageService interface {
	Upload(ctx context.Context, userID, bucket, path, contentType string) (uploadURL, publicURL string, err error)
	Remove(ctx context.Context, userID, bucket, path string) error
}

func toAPIUser(u *models.User) dataapi.User {
	return dataapi.User{ID: u.ID, Email: u.Email, FullName: u.FullName, CreatedAt: u.CreatedAt}
}

func (s *GRPCServer) Register(ctx context.Context, req *dataapi.RegisterRequest) (*dataapi.RegisterResponse, error) {
	u, err := s.users.Register(ctx, req.Email, req.Password, req.FullName)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &dataapi.RegisterResponse{UserID: u.ID}, nil
}

func (s *GRPCServer) Login(ctx context.Context, req *dataapi.LoginRequest) (*dataapi.LoginResponse, error) {
	u, tokens, err := s.users.Login(ctx, req.Email, req.Password)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &dataapi.LoginResponse{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		User:         toAPIUser(u),
	}, nil
}

func (s *GRPCServer) RefreshToken(ctx context.Context, req *dataapi.RefreshTokenRequest) (*dataapi.RefreshTokenResponse, error) {
	if req.RefreshToken == "" {
		return nil, status.Error(codes.InvalidArgument, "refresh token required")
	}
	tokens, err := s.users.RefreshToken(ctx, req.RefreshToken)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &dataapi.RefreshTokenResponse{AccessToken: tokens.AccessToken, RefreshToken: tokens.RefreshToken}, nil
}

func (s *GRPCServer) CurrentUser(ctx context.Context, _ *dataapi.CurrentUserRequest) (*dataapi.CurrentUserResponse, error) {
	u, err := s.users.CurrentUser(ctx, userIDFromContext(ctx))
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &dataapi.CurrentUserResponse{User: toAPIUser(u)}, nil
}

func (s *GRPCServer) Insert(ctx context.Context, req *dataapi.InsertRequest) (*dataapi.InsertResponse, error) {
	records, err := s.rows.Insert(ctx, userIDFromContext(ctx), req.Collection, req.Records)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &dataapi.InsertResponse{Records: records}, nil
}

func (s *GRPCServer) Update(ctx context.Context, req *dataapi.UpdateRequest) (*dataapi.UpdateResponse, error) {
	record, err := s.rows.Update(ctx, userIDFromContext(ctx), req.Collection, req.ID, req.Patch)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &dataapi.UpdateResponse{Record: record}, nil
}

func (s *GRPCServer) Delete(ctx context.Context, req *dataapi.DeleteRequest) (*dataapi.DeleteResponse, error) {
	if err := s.rows.Delete(ctx, userIDFromContext(ctx), req.Collection, req.ID); err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &dataapi.DeleteResponse{}, nil
}

func (s *GRPCServer) Select(ctx context.Context, req *dataapi.SelectRequest) (*dataapi.SelectResponse, error) {
	records, err := s.rows.Select(ctx, userIDFromContext(ctx), req)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	if records == nil {
		records = []json.RawMessage{}
	}
	return &dataapi.SelectResponse{Records: records}, nil
}

func (s *GRPCServer) Increment(ctx context.Context, req *dataapi.IncrementRequest) (*dataapi.IncrementResponse, error) {
	v, err := s.rows.Increment(ctx, req.Collection, req.ID, req.Field)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &dataapi.IncrementResponse{Value: v}, nil
}

func (s *GRPCServer) Upload(ctx context.Context, req *dataapi.UploadRequest) (*dataapi.UploadResponse, error) {
	uploadURL, publicURL, err := s.storage.Upload(ctx, userIDFromContext(ctx), req.Bucket, req.Path, req.ContentType)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &dataapi.UploadResponse{UploadURL: uploadURL, PublicURL: publicURL}, nil
}

func (s *GRPCServer) Remove(ctx context.Context, req *dataapi.RemoveRequest) (*dataapi.RemoveResponse, error) {
	if err := s.storage.Remove(ctx, userIDFromContext(ctx), req.Bucket, req.Path); err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &dataapi.RemoveResponse{}, nil
}
