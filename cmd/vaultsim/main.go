// vaultsim runs a scripted session against an in-memory vault: register a
// 50/50 weighted pool, seed it, trade against it, and settle every delta.
// It exists to exercise the full settlement path end to end and to expose
// the vault's metrics for inspection.
package main

import (
	"flag"
	"log/slog"
	"math/big"
	"net/http"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Akron-admin/balancer-v3-monorepo/pools/weighted"
	"github.com/Akron-admin/balancer-v3-monorepo/tokens"
	"github.com/Akron-admin/balancer-v3-monorepo/vault"
)

var (
	vaultAddr = common.HexToAddress("0x0000000000000000000000000000000000000Fa1")
	poolAddr  = common.HexToAddress("0x0000000000000000000000000000000000000AAA")
	alice     = common.HexToAddress("0x00000000000000000000000000000000000A11CE")

	tokenA = common.HexToAddress("0x000000000000000000000000000000000000aaa1")
	tokenB = common.HexToAddress("0x000000000000000000000000000000000000bbb1")
)

func main() {
	metricsAddr := flag.String("metrics-addr", "", "If set, serve Prometheus metrics on this address after the run.")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	registry := prometheus.NewRegistry()

	book := tokens.NewBook()
	v, err := vault.New(&vault.Config{
		Book:     book.ViewFor(vaultAddr),
		Logger:   logger,
		Registry: registry,
	})
	if err != nil {
		logger.Error("Failed to construct vault", "error", err)
		os.Exit(1)
	}

	half := big.NewInt(500_000_000_000_000_000)
	pool, err := weighted.New([]*big.Int{half, half})
	if err != nil {
		logger.Error("Failed to construct pool", "error", err)
		os.Exit(1)
	}

	err = v.RegisterPool(vault.PoolRegistration{
		Address: poolAddr,
		Pool:    pool,
		Tokens: []vault.TokenConfig{
			{Token: tokenA, Decimals: 18},
			{Token: tokenB, Decimals: 18},
		},
		Config: vault.PoolConfig{
			// 0.3% swap fee.
			SwapFeePercentage: big.NewInt(3_000_000_000_000_000),
		},
	})
	if err != nil {
		logger.Error("Failed to register pool", "error", err)
		os.Exit(1)
	}

	// Fund the trader with 2M of each token.
	supply := uint256.MustFromDecimal("2000000000000000000000000")
	for _, token := range []common.Address{tokenA, tokenB} {
		if err := book.Mint(token, alice, supply); err != nil {
			logger.Error("Failed to mint", "token", token.Hex(), "error", err)
			os.Exit(1)
		}
	}

	seed := new(big.Int)
	seed.SetString("1000000000000000000000000", 10) // 1M per side

	err = v.Unlock(alice, func(v *vault.Vault) error {
		bptOut, err := v.Initialize(poolAddr, []*big.Int{seed, seed})
		if err != nil {
			return err
		}
		logger.Info("Pool seeded", "bptOut", bptOut.String())

		// Pay the seed deposits in and reconcile.
		for _, token := range []common.Address{tokenA, tokenB} {
			amount, _ := uint256.FromBig(seed)
			if err := book.Transfer(token, alice, vaultAddr, amount); err != nil {
				return err
			}
			if _, err := v.Settle(token, nil); err != nil {
				return err
			}
		}

		// Swap 100k A for B, exact in.
		amountIn := new(big.Int)
		amountIn.SetString("100000000000000000000000", 10)
		amountOut, err := v.Swap(vault.SwapParams{
			Pool:           poolAddr,
			TokenIn:        tokenA,
			TokenOut:       tokenB,
			Kind:           vault.SwapKindExactIn,
			AmountGivenRaw: amountIn,
		})
		if err != nil {
			return err
		}
		logger.Info("Swap priced", "amountIn", amountIn.String(), "amountOut", amountOut.String())

		in256, _ := uint256.FromBig(amountIn)
		if err := book.Transfer(tokenA, alice, vaultAddr, in256); err != nil {
			return err
		}
		if _, err := v.Settle(tokenA, nil); err != nil {
			return err
		}
		return v.SendTo(tokenB, alice, amountOut)
	})
	if err != nil {
		logger.Error("Session failed", "error", err)
		os.Exit(1)
	}

	logger.Info("Session settled",
		"vaultReservesA", v.ReservesOf(tokenA).Dec(),
		"vaultReservesB", v.ReservesOf(tokenB).Dec(),
		"traderBalanceA", book.BalanceOf(tokenA, alice).Dec(),
		"traderBalanceB", book.BalanceOf(tokenB, alice).Dec(),
	)

	if *metricsAddr != "" {
		logger.Info("Serving metrics", "addr", *metricsAddr)
		http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
			logger.Error("Metrics server failed", "error", err)
			os.Exit(1)
		}
	}
}
