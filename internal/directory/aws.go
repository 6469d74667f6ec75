package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	orgtypes "github.com/aws/aws-sdk-go-v2/service/organizations/types"

	"github.com/halcyonops/sandbox-control-plane/internal/awsx"
)

// AWSService implements Service on AWS Organizations, one OU per pool.
type AWSService struct {
	client   *organizations.Client
	ouByPool map[Pool]string
	poolByOU map[string]Pool
}

type AWSOptions struct {
	// OU id per pool; all seven pools must be mapped.
	OUByPool map[Pool]string
}

func NewAWSService(ctx context.Context, opts AWSOptions) (*AWSService, error) {
	pools := []Pool{PoolEntry, PoolAvailable, PoolActive, PoolFrozen, PoolCleanUp, PoolQuarantine, PoolExit}
	poolByOU := make(map[string]Pool, len(pools))
	for _, p := range pools {
		ou := opts.OUByPool[p]
		if ou == "" {
			return nil, fmt.Errorf("OU id for pool %s is required", p)
		}
		poolByOU[ou] = p
	}
	cfg, err := awscfg.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}
	return &AWSService{
		client:   organizations.NewFromConfig(cfg),
		ouByPool: opts.OUByPool,
		poolByOU: poolByOU,
	}, nil
}

func (s *AWSService) DescribeAccount(ctx context.Context, accountID string) (*Account, error) {
	var out *organizations.DescribeAccountOutput
	start := time.Now()
	err := awsx.Retry(ctx, "describe_account", func(callCtx context.Context) error {
		var callErr error
		out, callErr = s.client.DescribeAccount(callCtx, &organizations.DescribeAccountInput{
			AccountId: aws.String(accountID),
		})
		return callErr
	})
	awsx.Observe("describe_account", start, err)
	if err != nil {
		var notFound *orgtypes.AccountNotFoundException
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
		}
		return nil, fmt.Errorf("describe account: %w", err)
	}
	return &Account{
		ID:    aws.ToString(out.Account.Id),
		Name:  aws.ToString(out.Account.Name),
		Email: aws.ToString(out.Account.Email),
	}, nil
}

func (s *AWSService) AccountPool(ctx context.Context, accountID string) (Pool, error) {
	var out *organizations.ListParentsOutput
	start := time.Now()
	err := awsx.Retry(ctx, "list_parents", func(callCtx context.Context) error {
		var callErr error
		out, callErr = s.client.ListParents(callCtx, &organizations.ListParentsInput{
			ChildId: aws.String(accountID),
		})
		return callErr
	})
	awsx.Observe("list_parents", start, err)
	if err != nil {
		var notFound *orgtypes.ChildNotFoundException
		if errors.As(err, &notFound) {
			return "", fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
		}
		return "", fmt.Errorf("list parents: %w", err)
	}
	// An account has exactly one parent.
	for _, parent := range out.Parents {
		if pool, ok := s.poolByOU[aws.ToString(parent.Id)]; ok {
			return pool, nil
		}
	}
	return "", fmt.Errorf("%w: %s is outside managed pools", ErrWrongPool, accountID)
}

func (s *AWSService) MoveAccount(ctx context.Context, accountID string, from, to Pool) error {
	src, ok := s.ouByPool[from]
	if !ok {
		return fmt.Errorf("no OU mapped for pool %s", from)
	}
	dst, ok := s.ouByPool[to]
	if !ok {
		return fmt.Errorf("no OU mapped for pool %s", to)
	}

	start := time.Now()
	err := awsx.Retry(ctx, "move_account", func(callCtx context.Context) error {
		_, callErr := s.client.MoveAccount(callCtx, &organizations.MoveAccountInput{
			AccountId:           aws.String(accountID),
			SourceParentId:      aws.String(src),
			DestinationParentId: aws.String(dst),
		})
		return callErr
	})
	awsx.Observe("move_account", start, err)
	if err != nil {
		var notFound *orgtypes.AccountNotFoundException
		if errors.As(err, &notFound) {
			return fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
		}
		var wrongParent *orgtypes.SourceParentNotFoundException
		if errors.As(err, &wrongParent) {
			return fmt.Errorf("%w: %s not under %s", ErrWrongPool, accountID, from)
		}
		return fmt.Errorf("move account %s -> %s: %w", from, to, err)
	}
	return nil
}
