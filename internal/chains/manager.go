package chains

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/TreeCityWes/xburn-dashboard/pkg/blocks"
	"github.com/TreeCityWes/xburn-dashboard/pkg/eventfeed"
	efimpl "github.com/TreeCityWes/xburn-dashboard/pkg/eventfeed/impl"
	epimpl "github.com/TreeCityWes/xburn-dashboard/pkg/eventprocessor/impl"
	"github.com/TreeCityWes/xburn-dashboard/pkg/sqlstore"
	"github.com/TreeCityWes/xburn-dashboard/pkg/validator"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	logger "github.com/rs/zerolog/log"
)

// ConfigurationError reports an invalid chain configuration submitted to the
// manager. The described chain was not registered.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid chain configuration: %s %s", e.Field, e.Reason)
}

// DialFunc opens a chain client for an RPC endpoint. It exists so tests can
// inject fakes instead of dialing real nodes.
type DialFunc func(ctx context.Context, rpcURL string) (eventfeed.ChainClient, error)

// EthclientDial is the production DialFunc.
func EthclientDial(ctx context.Context, rpcURL string) (eventfeed.ChainClient, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %s", rpcURL, err)
	}
	return client, nil
}

// Manager owns the per-chain stacks: it seeds chain configuration, starts and
// stops stacks, and schedules the validation cadences (daily gap scan, weekly
// integrity digest).
type Manager struct {
	log   zerolog.Logger
	store sqlstore.SystemStore
	dial  DialFunc
	cron  *cron.Cron

	lock   sync.Mutex
	stacks map[sqlstore.ChainID]*ChainStack
}

// NewManager returns a new Manager.
func NewManager(store sqlstore.SystemStore, dial DialFunc) *Manager {
	log := logger.With().Str("component", "chainmanager").Logger()
	return &Manager{
		log:    log,
		store:  store,
		dial:   dial,
		cron:   cron.New(),
		stacks: map[sqlstore.ChainID]*ChainStack{},
	}
}

// defaultChains are registered on first boot when the chains table is empty.
var defaultChains = []sqlstore.Chain{
	{
		ID:                1,
		Name:              "Ethereum",
		RPCURL:            "https://eth.llamarpc.com",
		XENTokenAddress:   "0x06450dEe7FD2Fb8E39061434BAbCFC05599a6Fb8",
		BurnMinterAddress: "0x0000000000000000000000000000000000000000",
		BurnNFTAddress:    "0x0000000000000000000000000000000000000000",
		StartBlock:        15704871,
		BatchSize:         100,
		Enabled:           false,
	},
	{
		ID:                8453,
		Name:              "Base",
		RPCURL:            "https://mainnet.base.org",
		XENTokenAddress:   "0xffcbF84650cE02DaFE96926B37a0ac5E34932fa5",
		BurnMinterAddress: "0x0000000000000000000000000000000000000000",
		BurnNFTAddress:    "0x0000000000000000000000000000000000000000",
		StartBlock:        2160000,
		BatchSize:         100,
		Enabled:           false,
	},
}

// Initialize seeds default chain configuration when none exists, starts a
// stack for every enabled chain, and schedules the validation cadences.
func (m *Manager) Initialize(ctx context.Context) error {
	chains, err := m.store.GetChains(ctx)
	if err != nil {
		return fmt.Errorf("loading chains: %s", err)
	}
	if len(chains) == 0 {
		m.log.Info().Msg("no chains registered, seeding defaults")
		for _, chain := range defaultChains {
			if err := m.store.UpsertChain(ctx, chain); err != nil {
				return fmt.Errorf("seeding chain %d: %s", chain.ID, err)
			}
		}
		chains, err = m.store.GetChains(ctx)
		if err != nil {
			return fmt.Errorf("reloading chains: %s", err)
		}
	}

	for _, chain := range chains {
		if !chain.Enabled {
			m.log.Debug().Int64("chain_id", int64(chain.ID)).Msg("chain disabled, skipping")
			continue
		}
		if err := m.startStack(ctx, chain); err != nil {
			return fmt.Errorf("starting stack for chain %d: %s", chain.ID, err)
		}
	}

	if _, err := m.cron.AddFunc("0 0 * * 0", func() {
		m.runWeeklyDigest(context.Background())
	}); err != nil {
		return fmt.Errorf("scheduling weekly digest: %s", err)
	}
	if _, err := m.cron.AddFunc("0 1 * * *", func() {
		m.runGapScans(context.Background())
	}); err != nil {
		return fmt.Errorf("scheduling gap scan: %s", err)
	}
	m.cron.Start()

	return nil
}

// AddChain validates, persists, and starts a new chain. The chain is flagged
// enabled only after its stack is running, so a failed dial or a duplicate
// registration never leaves a chain enabled but not indexing.
func (m *Manager) AddChain(ctx context.Context, chain sqlstore.Chain) error {
	if err := validateChain(chain); err != nil {
		return err
	}
	if chain.BatchSize == 0 {
		chain.BatchSize = 100
	}
	m.lock.Lock()
	_, running := m.stacks[chain.ID]
	m.lock.Unlock()
	if running {
		return fmt.Errorf("chain %d is already running", chain.ID)
	}
	chain.Enabled = false
	if err := m.store.UpsertChain(ctx, chain); err != nil {
		return fmt.Errorf("persisting chain %d: %s", chain.ID, err)
	}
	if err := m.startStack(ctx, chain); err != nil {
		return fmt.Errorf("starting stack for chain %d: %s", chain.ID, err)
	}
	if err := m.store.SetChainEnabled(ctx, chain.ID, true); err != nil {
		m.lock.Lock()
		stack := m.stacks[chain.ID]
		delete(m.stacks, chain.ID)
		m.lock.Unlock()
		if stack != nil {
			if cerr := stack.Close(ctx); cerr != nil {
				m.log.Error().Err(cerr).Int64("chain_id", int64(chain.ID)).Msg("closing stack after failed enable")
			}
		}
		return fmt.Errorf("enabling chain %d: %s", chain.ID, err)
	}
	return nil
}

// DisableChain flags a chain disabled and stops its stack. It returns when
// the listener and processor have fully quiesced, so no batch is in flight
// afterwards.
func (m *Manager) DisableChain(ctx context.Context, id sqlstore.ChainID) error {
	if err := m.store.SetChainEnabled(ctx, id, false); err != nil {
		return fmt.Errorf("flagging chain %d disabled: %s", id, err)
	}

	m.lock.Lock()
	stack, ok := m.stacks[id]
	delete(m.stacks, id)
	m.lock.Unlock()
	if !ok {
		return nil
	}
	if err := stack.Close(ctx); err != nil {
		return fmt.Errorf("closing stack for chain %d: %s", id, err)
	}
	m.log.Info().Int64("chain_id", int64(id)).Msg("chain disabled")
	return nil
}

// Close stops the validation schedule and every running stack.
func (m *Manager) Close(ctx context.Context) error {
	stopCtx := m.cron.Stop()
	<-stopCtx.Done()

	m.lock.Lock()
	stacks := make([]*ChainStack, 0, len(m.stacks))
	for id, stack := range m.stacks {
		stacks = append(stacks, stack)
		delete(m.stacks, id)
	}
	m.lock.Unlock()

	for _, stack := range stacks {
		if err := stack.Close(ctx); err != nil {
			m.log.Error().Err(err).Msg("closing chain stack")
		}
	}
	return nil
}

func (m *Manager) startStack(ctx context.Context, chain sqlstore.Chain) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if _, ok := m.stacks[chain.ID]; ok {
		return fmt.Errorf("chain %d is already running", chain.ID)
	}

	client, err := m.dial(ctx, chain.RPCURL)
	if err != nil {
		return fmt.Errorf("dialing chain %d: %s", chain.ID, err)
	}

	addrs := eventfeed.ContractAddresses{
		XENToken:   common.HexToAddress(chain.XENTokenAddress),
		BurnMinter: common.HexToAddress(chain.BurnMinterAddress),
		BurnNFT:    common.HexToAddress(chain.BurnNFTAddress),
	}
	var feedOpts []eventfeed.Option
	if chain.BatchSize > 0 {
		feedOpts = append(feedOpts, eventfeed.WithBatchSize(chain.BatchSize))
	}
	feed, err := efimpl.New(m.store, chain.ID, client, addrs, feedOpts...)
	if err != nil {
		return fmt.Errorf("creating event feed: %s", err)
	}

	blockSvc := blocks.New(m.store, chain.ID, client)
	processor, err := epimpl.New(m.store, client, blockSvc, feed, chain.ID, addrs)
	if err != nil {
		return fmt.Errorf("creating event processor: %s", err)
	}
	if err := processor.Start(); err != nil {
		return fmt.Errorf("starting event processor: %s", err)
	}

	m.stacks[chain.ID] = &ChainStack{
		Store:     m.store,
		Feed:      feed,
		Processor: processor,
		Close: func(ctx context.Context) error {
			// Stop is synchronous; when it returns, the feed was canceled
			// and the last in-flight batch was either committed or dropped
			// before the cursor write.
			processor.Stop()
			return nil
		},
	}
	m.log.Info().
		Int64("chain_id", int64(chain.ID)).
		Str("name", chain.Name).
		Msg("chain stack started")
	return nil
}

func (m *Manager) runWeeklyDigest(ctx context.Context) {
	m.lock.Lock()
	ids := make([]sqlstore.ChainID, 0, len(m.stacks))
	for id := range m.stacks {
		ids = append(ids, id)
	}
	m.lock.Unlock()

	for _, id := range ids {
		validator.New(m.store, id).RunDigest(ctx)
	}
}

func (m *Manager) runGapScans(ctx context.Context) {
	m.lock.Lock()
	ids := make([]sqlstore.ChainID, 0, len(m.stacks))
	for id := range m.stacks {
		ids = append(ids, id)
	}
	m.lock.Unlock()

	for _, id := range ids {
		validator.New(m.store, id).RunGapScan(ctx)
	}
}

func validateChain(chain sqlstore.Chain) error {
	if chain.ID <= 0 {
		return &ConfigurationError{Field: "id", Reason: "must be positive"}
	}
	if strings.TrimSpace(chain.Name) == "" {
		return &ConfigurationError{Field: "name", Reason: "is empty"}
	}
	if !strings.HasPrefix(chain.RPCURL, "http://") &&
		!strings.HasPrefix(chain.RPCURL, "https://") &&
		!strings.HasPrefix(chain.RPCURL, "ws://") &&
		!strings.HasPrefix(chain.RPCURL, "wss://") {
		return &ConfigurationError{Field: "rpcUrl", Reason: "isn't a valid endpoint URL"}
	}
	for field, addr := range map[string]string{
		"xenTokenAddress":   chain.XENTokenAddress,
		"burnMinterAddress": chain.BurnMinterAddress,
		"burnNftAddress":    chain.BurnNFTAddress,
	} {
		if !common.IsHexAddress(addr) {
			return &ConfigurationError{Field: field, Reason: "isn't a valid address"}
		}
	}
	return nil
}
