package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/identitystore"
	"github.com/aws/aws-sdk-go-v2/service/identitystore/document"
	idstypes "github.com/aws/aws-sdk-go-v2/service/identitystore/types"
	"github.com/aws/aws-sdk-go-v2/service/ssoadmin"
	ssotypes "github.com/aws/aws-sdk-go-v2/service/ssoadmin/types"

	"github.com/halcyonops/sandbox-control-plane/internal/awsx"
)

const cacheTTL = 5 * time.Minute

// AWSService implements Service against IAM Identity Center: user lookup
// through the identity store, account access through permission-set
// assignments.
type AWSService struct {
	ids   *identitystore.Client
	sso   *ssoadmin.Client
	opts  AWSOptions
	cache *listingCache
}

type AWSOptions struct {
	InstanceARN     string
	IdentityStoreID string
	// Permission set granting each role on a sandbox account.
	PermissionSetARNs map[Role]string
	// Identity Center group backing each role.
	GroupIDs map[Role]string
}

func NewAWSService(ctx context.Context, opts AWSOptions) (*AWSService, error) {
	if strings.TrimSpace(opts.InstanceARN) == "" {
		return nil, fmt.Errorf("InstanceARN is required")
	}
	if strings.TrimSpace(opts.IdentityStoreID) == "" {
		return nil, fmt.Errorf("IdentityStoreID is required")
	}
	for _, role := range []Role{RoleUser, RoleManager, RoleAdmin} {
		if opts.PermissionSetARNs[role] == "" {
			return nil, fmt.Errorf("permission set arn for role %s is required", role)
		}
	}
	cfg, err := awscfg.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}
	return &AWSService{
		ids:   identitystore.NewFromConfig(cfg),
		sso:   ssoadmin.NewFromConfig(cfg),
		opts:  opts,
		cache: newListingCache(cacheTTL),
	}, nil
}

func (s *AWSService) GetUserFromEmail(ctx context.Context, email string) (*User, error) {
	var out *identitystore.GetUserIdOutput
	start := time.Now()
	err := awsx.Retry(ctx, "get_user_id", func(callCtx context.Context) error {
		var callErr error
		out, callErr = s.ids.GetUserId(callCtx, &identitystore.GetUserIdInput{
			IdentityStoreId:     aws.String(s.opts.IdentityStoreID),
			AlternateIdentifier: emailIdentifier(email),
		})
		return callErr
	})
	awsx.Observe("get_user_id", start, err)
	if err != nil {
		var notFound *idstypes.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: %s", ErrUserNotFound, email)
		}
		return nil, fmt.Errorf("get user id: %w", err)
	}
	return &User{ID: aws.ToString(out.UserId), Email: email}, nil
}

// emailIdentifier builds the identity-store alternate identifier that
// resolves a user by primary email.
func emailIdentifier(email string) *idstypes.AlternateIdentifierMemberUniqueAttribute {
	return &idstypes.AlternateIdentifierMemberUniqueAttribute{
		Value: idstypes.UniqueAttribute{
			AttributePath:  aws.String("emails.value"),
			AttributeValue: document.NewLazyDocument(email),
		},
	}
}

func (s *AWSService) AssignUserAccess(ctx context.Context, accountID, userID string) error {
	return s.assign(ctx, accountID, userID, ssotypes.PrincipalTypeUser, s.opts.PermissionSetARNs[RoleUser])
}

func (s *AWSService) RevokeUserAccess(ctx context.Context, accountID, userID string) error {
	return s.revoke(ctx, accountID, userID, ssotypes.PrincipalTypeUser, s.opts.PermissionSetARNs[RoleUser])
}

func (s *AWSService) AssignGroupAccess(ctx context.Context, accountID string, role Role) error {
	groupID, ok := s.opts.GroupIDs[role]
	if !ok {
		return fmt.Errorf("no identity group configured for role %s", role)
	}
	return s.assign(ctx, accountID, groupID, ssotypes.PrincipalTypeGroup, s.opts.PermissionSetARNs[role])
}

func (s *AWSService) RevokeGroupAccess(ctx context.Context, accountID string, role Role) error {
	groupID, ok := s.opts.GroupIDs[role]
	if !ok {
		return fmt.Errorf("no identity group configured for role %s", role)
	}
	return s.revoke(ctx, accountID, groupID, ssotypes.PrincipalTypeGroup, s.opts.PermissionSetARNs[role])
}

// RevokeAllUserAccess removes every USER-principal assignment on the
// account's user permission set.
func (s *AWSService) RevokeAllUserAccess(ctx context.Context, accountID string) error {
	psArn := s.opts.PermissionSetARNs[RoleUser]
	token := ""
	for {
		principals, next, err := s.listUserAssignments(ctx, accountID, psArn, token)
		if err != nil {
			return err
		}
		for _, principal := range principals {
			if err := s.revoke(ctx, accountID, principal, ssotypes.PrincipalTypeUser, psArn); err != nil {
				return err
			}
		}
		if next == "" {
			return nil
		}
		token = next
	}
}

func (s *AWSService) listUserAssignments(ctx context.Context, accountID, psArn, pageToken string) ([]string, string, error) {
	key := accountID + "|" + psArn + "|" + pageToken
	if values, next, ok := s.cache.get(key); ok {
		return values, next, nil
	}

	in := &ssoadmin.ListAccountAssignmentsInput{
		AccountId:        aws.String(accountID),
		InstanceArn:      aws.String(s.opts.InstanceARN),
		PermissionSetArn: aws.String(psArn),
	}
	if pageToken != "" {
		in.NextToken = aws.String(pageToken)
	}

	var out *ssoadmin.ListAccountAssignmentsOutput
	start := time.Now()
	err := awsx.Retry(ctx, "list_account_assignments", func(callCtx context.Context) error {
		var callErr error
		out, callErr = s.sso.ListAccountAssignments(callCtx, in)
		return callErr
	})
	awsx.Observe("list_account_assignments", start, err)
	if err != nil {
		return nil, "", fmt.Errorf("list account assignments: %w", err)
	}

	principals := make([]string, 0, len(out.AccountAssignments))
	for _, a := range out.AccountAssignments {
		if a.PrincipalType == ssotypes.PrincipalTypeUser {
			principals = append(principals, aws.ToString(a.PrincipalId))
		}
	}
	next := aws.ToString(out.NextToken)
	s.cache.put(key, principals, next)
	return principals, next, nil
}

func (s *AWSService) assign(ctx context.Context, accountID, principalID string, principalType ssotypes.PrincipalType, psArn string) error {
	start := time.Now()
	err := awsx.Retry(ctx, "create_account_assignment", func(callCtx context.Context) error {
		_, callErr := s.sso.CreateAccountAssignment(callCtx, &ssoadmin.CreateAccountAssignmentInput{
			InstanceArn:      aws.String(s.opts.InstanceARN),
			PermissionSetArn: aws.String(psArn),
			PrincipalId:      aws.String(principalID),
			PrincipalType:    principalType,
			TargetId:         aws.String(accountID),
			TargetType:       ssotypes.TargetTypeAwsAccount,
		})
		return callErr
	})
	awsx.Observe("create_account_assignment", start, err)
	if err != nil {
		// Authorization failures surface unchanged so callers see the
		// exact denial.
		if awsx.IsAccessDenied(err) {
			return err
		}
		return fmt.Errorf("create account assignment: %w", err)
	}
	s.cache.invalidateAll()
	return nil
}

func (s *AWSService) revoke(ctx context.Context, accountID, principalID string, principalType ssotypes.PrincipalType, psArn string) error {
	start := time.Now()
	err := awsx.Retry(ctx, "delete_account_assignment", func(callCtx context.Context) error {
		_, callErr := s.sso.DeleteAccountAssignment(callCtx, &ssoadmin.DeleteAccountAssignmentInput{
			InstanceArn:      aws.String(s.opts.InstanceARN),
			PermissionSetArn: aws.String(psArn),
			PrincipalId:      aws.String(principalID),
			PrincipalType:    principalType,
			TargetId:         aws.String(accountID),
			TargetType:       ssotypes.TargetTypeAwsAccount,
		})
		return callErr
	})
	awsx.Observe("delete_account_assignment", start, err)
	if err != nil {
		if awsx.IsAccessDenied(err) {
			return err
		}
		return fmt.Errorf("delete account assignment: %w", err)
	}
	s.cache.invalidateAll()
	return nil
}
