package chains

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const (
	// SweeperContractAddress is the sweep contract address, identical on every deployed chain
	SweeperContractAddress = "0xdEa1412DcA2F300C4043009391ab39697450d74E"
	// PaymasterAddress sponsors gas for sweeps
	PaymasterAddress = "0xD846063CFc26628A63bdDb4A9198B612F652F3fb"
)

// Chain is a supported network. Values are immutable for the process lifetime.
type Chain struct {
	ID              uint64
	Name            string
	Symbol          string
	Tier            int
	Aliases         []string
	ContractAddress string // Empty when the sweep contract is not deployed
	BlockExplorer   string
}

// IsDeployed reports whether the sweep contract exists on the chain
func (c Chain) IsDeployed() bool {
	return c.ContractAddress != ""
}

func chain(id uint64, name, symbol string, tier int, aliases ...string) Chain {
	return Chain{ID: id, Name: name, Symbol: symbol, Tier: tier, Aliases: aliases}
}

func withDeployment(c Chain, explorer string) Chain {
	c.ContractAddress = SweeperContractAddress
	c.BlockExplorer = explorer
	return c
}

// defaultChains mirrors the networks offered by the sweeper UI
var defaultChains = []Chain{
	// Tier 1
	withDeployment(chain(11155111, "Ethereum Sepolia", "ETH", 1, "sepolia", "eth-sepolia"), "https://sepolia.etherscan.io"),
	withDeployment(chain(84532, "Base Sepolia", "ETH", 1, "base-sepolia"), "https://sepolia.basescan.org"),
	withDeployment(chain(421614, "Arbitrum Sepolia", "ETH", 1, "arbitrum-sepolia", "arb-sepolia"), "https://sepolia.arbiscan.io"),
	withDeployment(chain(11155420, "Optimism Sepolia", "ETH", 1, "optimism-sepolia", "op-sepolia"), "https://sepolia-optimism.etherscan.io"),
	withDeployment(chain(80002, "Polygon Amoy", "MATIC", 1, "amoy", "polygon-amoy"), "https://amoy.polygonscan.com"),

	// Tier 2
	withDeployment(chain(56, "Binance Smart Chain", "BNB", 2, "bsc", "bnb"), "https://testnet.bscscan.com"),
	withDeployment(chain(43114, "Avalanche", "AVAX", 2, "avax", "avalanche"), "https://testnet.snowtrace.io"),
	chain(250, "Fantom", "FTM", 2, "fantom", "ftm"),
	chain(100, "Gnosis", "xDAI", 2, "gnosis", "xdai"),
	chain(324, "zkSync Era", "ETH", 2, "zksync"),

	// Tier 3
	chain(59144, "Linea", "ETH", 3, "linea"),
	withDeployment(chain(81457, "Blast", "ETH", 3, "blast"), "https://sepolia.blastscan.io"),
	withDeployment(chain(534352, "Scroll", "ETH", 3, "scroll"), "https://sepolia.scrollscan.com"),
	chain(5000, "Mantle", "MNT", 3, "mantle"),
	withDeployment(chain(34443, "Mode", "ETH", 3, "mode"), "https://sepolia.explorer.mode.network"),
	chain(1101, "Polygon zkEVM", "ETH", 3, "polygon-zkevm", "zkevm"),
	chain(1313161554, "Aurora", "ETH", 3, "aurora"),
	withDeployment(chain(57073, "Ink", "ETH", 3, "ink"), "https://explorer-sepolia.inkonchain.com"),
	withDeployment(chain(1301, "Unichain", "ETH", 3, "unichain"), "https://sepolia.uniscan.xyz"),
	chain(1946, "Soneium", "ETH", 3, "soneium"),
	chain(146, "Sonic", "S", 3, "sonic"),
	chain(8333, "B3", "ETH", 3, "b3"),
	chain(80084, "Berachain", "BERA", 3, "berachain", "bera"),
}

// Registry is a read-only table of supported chains keyed by chain ID
type Registry struct {
	chains map[uint64]Chain
	names  map[string]uint64
}

// NewRegistry builds a registry from the given chains. Duplicate IDs or names are rejected.
func NewRegistry(list []Chain) (*Registry, error) {
	r := &Registry{
		chains: make(map[uint64]Chain, len(list)),
		names:  make(map[string]uint64),
	}

	for _, c := range list {
		if c.ID == 0 {
			return nil, fmt.Errorf("chain '%s' has no chain id", c.Name)
		}
		if _, exists := r.chains[c.ID]; exists {
			return nil, fmt.Errorf("duplicate chain id %d", c.ID)
		}
		r.chains[c.ID] = c

		keys := append([]string{c.Name}, c.Aliases...)
		for _, key := range keys {
			key = normalize(key)
			if other, exists := r.names[key]; exists && other != c.ID {
				return nil, fmt.Errorf("chain name '%s' is used by chains %d and %d", key, other, c.ID)
			}
			r.names[key] = c.ID
		}
	}

	return r, nil
}

// Default returns the registry of chains supported by the sweeper
func Default() *Registry {
	r, err := NewRegistry(defaultChains)
	if err != nil {
		panic(err)
	}
	return r
}

// Get returns the chain with the given ID
func (r *Registry) Get(id uint64) (Chain, bool) {
	c, ok := r.chains[id]
	return c, ok
}

// Lookup resolves a chain by numeric ID, display name or alias (case-insensitive)
func (r *Registry) Lookup(ref string) (Chain, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Chain{}, fmt.Errorf("chain is required")
	}

	if id, err := strconv.ParseUint(ref, 10, 64); err == nil {
		if c, ok := r.chains[id]; ok {
			return c, nil
		}
		return Chain{}, fmt.Errorf("chain id %d is not supported", id)
	}

	if id, ok := r.names[normalize(ref)]; ok {
		return r.chains[id], nil
	}

	return Chain{}, fmt.Errorf("chain '%s' not found", ref)
}

// All returns every chain ordered by tier, then name
func (r *Registry) All() []Chain {
	list := make([]Chain, 0, len(r.chains))
	for _, c := range r.chains {
		list = append(list, c)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Tier != list[j].Tier {
			return list[i].Tier < list[j].Tier
		}
		return list[i].Name < list[j].Name
	})
	return list
}

// Deployed returns the chains that can be used as a sweep source
func (r *Registry) Deployed() []Chain {
	var list []Chain
	for _, c := range r.All() {
		if c.IsDeployed() {
			list = append(list, c)
		}
	}
	return list
}

// IsDeployed reports whether the sweep contract exists on the chain
func (r *Registry) IsDeployed(id uint64) bool {
	c, ok := r.chains[id]
	return ok && c.IsDeployed()
}

// ContractAddress returns the sweep contract address on the chain, if deployed
func (r *Registry) ContractAddress(id uint64) (string, bool) {
	c, ok := r.chains[id]
	if !ok || !c.IsDeployed() {
		return "", false
	}
	return c.ContractAddress, true
}

// AddressURL returns the block explorer page of an address
func (r *Registry) AddressURL(id uint64, address string) (string, bool) {
	c, ok := r.chains[id]
	if !ok || c.BlockExplorer == "" {
		return "", false
	}
	return fmt.Sprintf("%s/address/%s", c.BlockExplorer, address), true
}

// TxURL returns the block explorer page of a transaction
func (r *Registry) TxURL(id uint64, hash string) (string, bool) {
	c, ok := r.chains[id]
	if !ok || c.BlockExplorer == "" {
		return "", false
	}
	return fmt.Sprintf("%s/tx/%s", c.BlockExplorer, hash), true
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "-", "_", "-").Replace(s)
}
