package main

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/spilltree/spilltree/membertree"

	"github.com/brianvoe/gofakeit/v6"
	petname "github.com/dustinkirkland/golang-petname"
	cli "github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var seedCmd = &cli.Command{
	Name:  "seed",
	Usage: "register fake members for load testing and demos",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "count",
			Usage: "number of members to register",
			Value: 100,
		},
		&cli.StringFlag{
			Name:  "sponsor",
			Usage: "existing member to grow below; a root is created when the store is empty and this is unset",
		},
		&cli.IntFlag{
			Name:  "parallel",
			Usage: "concurrent registrations",
			Value: 4,
		},
		&cli.Float64Flag{
			Name:  "rate",
			Usage: "maximum registrations per second (0 for unlimited)",
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx := cctx.Context
		logger := adminLogger(cctx)
		engine, store, err := openEngine(ctx, cctx, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		sponsors := &sponsorPool{}
		if code := cctx.String("sponsor"); code != "" {
			if _, err := engine.ValidateSponsor(ctx, code); err != nil {
				return err
			}
			sponsors.add(code)
		} else {
			reg := fakeRegistration(0, "")
			if _, err := engine.PlaceMember(ctx, reg); err != nil {
				return fmt.Errorf("creating root (pass --sponsor for a non-empty store): %w", err)
			}
			sponsors.add(reg.Code)
		}

		limit := rate.Inf
		if r := cctx.Float64("rate"); r > 0 {
			limit = rate.Limit(r)
		}
		limiter := rate.NewLimiter(limit, 1)

		start := time.Now()
		eg, ctx := errgroup.WithContext(ctx)
		eg.SetLimit(max(1, cctx.Int("parallel")))
		for i := 1; i <= cctx.Int("count"); i++ {
			if err := limiter.Wait(ctx); err != nil {
				break
			}
			eg.Go(func() error {
				reg := fakeRegistration(i, sponsors.pick())
				if _, err := engine.PlaceMember(ctx, reg); err != nil {
					return fmt.Errorf("registering %s: %w", reg.Code, err)
				}
				sponsors.add(reg.Code)
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return err
		}
		logger.Info("seeded members", "count", cctx.Int("count"), "duration", time.Since(start))
		return nil
	},
}

// sponsorPool hands out random already registered codes so seeded trees grow unevenly.
type sponsorPool struct {
	lk    sync.Mutex
	codes []string
}

func (p *sponsorPool) add(code string) {
	p.lk.Lock()
	defer p.lk.Unlock()
	p.codes = append(p.codes, code)
}

func (p *sponsorPool) pick() string {
	p.lk.Lock()
	defer p.lk.Unlock()
	return p.codes[rand.Intn(len(p.codes))]
}

// fakeCode makes a readable code like "brave-otter-17-kxqz"; the counter and letters keep
// codes unique across runs against the same store.
func fakeCode(i int) string {
	return fmt.Sprintf("%s-%d-%s", petname.Generate(2, "-"), i, strings.ToLower(gofakeit.LetterN(4)))
}

func fakeRegistration(i int, sponsor string) membertree.Registration {
	code := fakeCode(i)
	return membertree.Registration{
		Code:              code,
		Name:              gofakeit.Name(),
		Email:             strings.ToLower(code) + "@" + gofakeit.DomainName(),
		SponsorCode:       sponsor,
		PreferredPosition: membertree.Position(gofakeit.RandomString([]string{"left", "right", ""})),
	}
}
