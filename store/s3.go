package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/proxyfleet/provisioning-backend/interfaces"
)

var errObjectNotFound = errors.New("object not found")

// S3Store is a ProvisioningStore backed by Amazon S3 or a compatible object
// store. Each entity is one JSON object under a per-entity key prefix.
//
// S3 offers no compare-and-swap, so read-modify-write atomicity is only
// guaranteed within a single process (per-store mutex). Run one writer
// against a bucket.
type S3Store struct {
	client *s3.S3
	bucket string
	prefix string
	mu     sync.Mutex
	log    *slog.Logger
}

// NewS3Store creates an S3-backed store. Endpoint is optional and supports
// S3-compatible services; empty credentials fall back to the default AWS
// credential chain.
func NewS3Store(bucket, prefix, region, endpoint, accessKey, secretKey string, log *slog.Logger) (*S3Store, error) {
	cfg := aws.Config{
		Region: aws.String(region),
	}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}
	if accessKey != "" && secretKey != "" {
		cfg.Credentials = credentials.NewStaticCredentials(accessKey, secretKey, "")
	}

	sess, err := session.NewSession(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &S3Store{
		client: s3.New(sess),
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		log:    log,
	}, nil
}

func (s *S3Store) key(kind, name string) string {
	return path.Join(s.prefix, kind, url.PathEscape(name)+".json")
}

func (s *S3Store) getObject(ctx context.Context, kind, name string, out any, notFound error) error {
	resp, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(kind, name)),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && (aerr.Code() == s3.ErrCodeNoSuchKey || aerr.Code() == "NotFound") {
			return notFound
		}
		return fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("corrupt record %s: %w", s.key(kind, name), err)
	}
	return nil
}

func (s *S3Store) putObject(ctx context.Context, kind, name string, entity any) error {
	data, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	_, err = s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(kind, name)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *S3Store) deleteObject(ctx context.Context, kind, name string) error {
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(kind, name)),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	return nil
}

func listObjects[T any](ctx context.Context, s *S3Store, kind string) ([]T, error) {
	prefix := path.Join(s.prefix, kind) + "/"
	entities := []T{}

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}
	var pageErr error
	err := s.client.ListObjectsV2PagesWithContext(ctx, input, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			key := aws.StringValue(obj.Key)
			if !strings.HasSuffix(key, ".json") {
				continue
			}
			name := strings.TrimSuffix(strings.TrimPrefix(key, prefix), ".json")
			unescaped, uerr := url.PathUnescape(name)
			if uerr != nil {
				continue
			}
			var entity T
			if gerr := s.getObject(ctx, kind, unescaped, &entity, errObjectNotFound); gerr != nil {
				// Deleted between the listing and the read.
				if errors.Is(gerr, errObjectNotFound) {
					continue
				}
				pageErr = gerr
				return false
			}
			entities = append(entities, entity)
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	if pageErr != nil {
		return nil, pageErr
	}
	return entities, nil
}

// GetUser retrieves a user by identity hash.
func (s *S3Store) GetUser(ctx context.Context, id interfaces.UserID) (*interfaces.User, error) {
	var user interfaces.User
	if err := s.getObject(ctx, usersDir, id.String(), &user, interfaces.ErrUserNotFound); err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserByEmail retrieves a user by email via the derived identity hash.
func (s *S3Store) GetUserByEmail(ctx context.Context, email string) (*interfaces.User, error) {
	return s.GetUser(ctx, interfaces.NewUserID(email))
}

// AllUsers returns every user, ordered by email.
func (s *S3Store) AllUsers(ctx context.Context) ([]interfaces.User, error) {
	users, err := listObjects[interfaces.User](ctx, s, usersDir)
	if err != nil {
		return nil, err
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Email < users[j].Email })
	return users, nil
}

// InsertUser persists a new user.
func (s *S3Store) InsertUser(ctx context.Context, user *interfaces.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.GetUser(ctx, user.ID); err == nil {
		return interfaces.ErrUserExists
	} else if !errors.Is(err, interfaces.ErrUserNotFound) {
		return err
	}
	return s.putObject(ctx, usersDir, user.ID.String(), user)
}

// UpdateUser applies mutate under the store lock and rewrites the object.
func (s *S3Store) UpdateUser(ctx context.Context, id interfaces.UserID, mutate func(*interfaces.User) error) (*interfaces.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, err := s.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := mutate(user); err != nil {
		return nil, err
	}
	if err := s.putObject(ctx, usersDir, id.String(), user); err != nil {
		return nil, err
	}
	return user, nil
}

// DeleteUser removes a user object. Absent users are ignored.
func (s *S3Store) DeleteUser(ctx context.Context, id interfaces.UserID) error {
	return s.deleteObject(ctx, usersDir, id.String())
}

// AllProxyServers returns every proxy record, ordered by address.
func (s *S3Store) AllProxyServers(ctx context.Context) ([]interfaces.ProxyServer, error) {
	proxies, err := listObjects[interfaces.ProxyServer](ctx, s, proxiesDir)
	if err != nil {
		return nil, err
	}
	sort.Slice(proxies, func(i, j int) bool { return proxies[i].Address < proxies[j].Address })
	return proxies, nil
}

// ActiveProxyServers returns the proxy servers marked active.
func (s *S3Store) ActiveProxyServers(ctx context.Context) ([]interfaces.ProxyServer, error) {
	all, err := s.AllProxyServers(ctx)
	if err != nil {
		return nil, err
	}

	active := []interfaces.ProxyServer{}
	for _, p := range all {
		if p.Active {
			active = append(active, p)
		}
	}
	return active, nil
}

// InsertProxyServer persists a proxy record, replacing any existing one.
func (s *S3Store) InsertProxyServer(ctx context.Context, proxy *interfaces.ProxyServer) error {
	return s.putObject(ctx, proxiesDir, proxy.Address, proxy)
}

// DeleteProxyServer removes the record for the given address.
func (s *S3Store) DeleteProxyServer(ctx context.Context, address string) error {
	var proxy interfaces.ProxyServer
	if err := s.getObject(ctx, proxiesDir, address, &proxy, interfaces.ErrProxyNotFound); err != nil {
		return err
	}
	return s.deleteObject(ctx, proxiesDir, address)
}

// GetOrInsertDefaultDomainVerification returns the record for the domain,
// creating it with the default content on first read.
func (s *S3Store) GetOrInsertDefaultDomainVerification(ctx context.Context, domain string) (*interfaces.DomainVerification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var dv interfaces.DomainVerification
	err := s.getObject(ctx, verificationsDir, domain, &dv, errObjectNotFound)
	if err == nil {
		return &dv, nil
	}
	if !errors.Is(err, errObjectNotFound) {
		return nil, err
	}

	dv = interfaces.DomainVerification{Domain: domain, Content: interfaces.DefaultVerificationContent}
	if err := s.putObject(ctx, verificationsDir, domain, &dv); err != nil {
		return nil, err
	}
	return &dv, nil
}

// UpdateDomainVerification replaces the verification content for a domain.
func (s *S3Store) UpdateDomainVerification(ctx context.Context, domain, content string) (*interfaces.DomainVerification, error) {
	dv := interfaces.DomainVerification{Domain: domain, Content: content}
	if err := s.putObject(ctx, verificationsDir, domain, &dv); err != nil {
		return nil, err
	}
	return &dv, nil
}
