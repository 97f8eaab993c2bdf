package host

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/srg/btgate/internal/registry"
	"github.com/srg/btgate/internal/stack"
	"github.com/srg/btgate/pkg/rpc"
	"github.com/srg/btgate/pkg/wire"
)

func advertiseParams(req *wire.AdvertiseRequest) stack.AdvertiseParams {
	primary := stack.Phy1M
	if req.PrimaryPhy == wire.PrimaryCoded {
		primary = stack.PhyCoded
	}
	var secondary stack.LePhy
	switch req.SecondaryPhy {
	case wire.Secondary1M:
		secondary = stack.Phy1M
	case wire.Secondary2M:
		secondary = stack.Phy2M
	case wire.SecondaryCoded:
		secondary = stack.PhyCoded
	}
	return stack.AdvertiseParams{
		Connectable:    req.Connectable,
		Scannable:      !req.Connectable,
		Legacy:         req.SecondaryPhy == wire.SecondaryDefault || req.SecondaryPhy == wire.SecondaryNone,
		PrimaryPhy:     primary,
		SecondaryPhy:   secondary,
		Interval:       req.Interval,
		OwnAddressType: int32(req.OwnAddressType),
		Data:           req.Data,
	}
}

// advertiser owns one Advertise call's started sets so teardown stops each
// exactly once regardless of how the call exits.
type advertiser struct {
	stack stack.Stack

	mu    sync.Mutex
	stops []*setStopper
}

type setStopper struct {
	once         sync.Once
	advertiserID int32
}

func (a *advertiser) track(advertiserID int32) {
	a.mu.Lock()
	a.stops = append(a.stops, &setStopper{advertiserID: advertiserID})
	a.mu.Unlock()
}

func (a *advertiser) stopAll() {
	a.mu.Lock()
	stops := a.stops
	a.mu.Unlock()
	for _, st := range stops {
		st.once.Do(func() {
			_ = a.stack.StopAdvertisingSet(st.advertiserID)
		})
	}
}

// Advertise starts an advertising set and streams each accepted connection.
// The stack retires a connectable set when a central connects, so after the
// restart delay a fresh set is started whenever none is active. The call runs
// until the client cancels; teardown stops every set this call started.
func (s *Service) Advertise(ctx context.Context, req *wire.AdvertiseRequest, send func(*wire.AdvertiseResponse) error) error {
	params := advertiseParams(req)
	log := s.logger.WithField("connectable", params.Connectable)

	adv := &advertiser{stack: s.stack}
	defer adv.stopAll()

	startFeed := newAdvertiseStartFeed()
	startName := registry.ObserverName(startFeed)
	if err := s.registry.Register(stack.CategoryAdvertising, startName, startFeed); err != nil {
		return err
	}
	defer s.registry.Unregister(stack.CategoryAdvertising, startName)
	defer startFeed.events.Close()

	feed := newConnectionFeed()
	feedName := registry.ObserverName(feed)
	if err := s.registry.Register(stack.CategoryConnection, feedName, feed); err != nil {
		return err
	}
	defer s.registry.Unregister(stack.CategoryConnection, feedName)
	defer feed.events.Close()

	if err := s.startAdvertisingSet(ctx, adv, startFeed, params); err != nil {
		return err
	}
	log.Info("Advertising")

	if !params.Connectable {
		// Nothing to stream, but the stack may still retire the set;
		// keep one alive until the client cancels.
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.timeouts.AdvertiseRetry):
			}
			if s.stack.ActiveAdvertisingSets() == 0 {
				if err := s.startAdvertisingSet(ctx, adv, startFeed, params); err != nil {
					return err
				}
				log.Debug("Advertising restarted")
			}
		}
	}

	for {
		ev, err := feed.events.Next(ctx)
		if err != nil {
			return err
		}
		log.WithField("device", ev.Address.String()).Info("Connection accepted")
		if err := send(&wire.AdvertiseResponse{Connection: connection(ev.Address)}); err != nil {
			return err
		}

		// Let the link settle before re-advertising.
		select {
		case <-time.After(s.timeouts.AdvertiseRetry):
		case <-ctx.Done():
			return ctx.Err()
		}

		if s.stack.ActiveAdvertisingSets() == 0 {
			if err := s.startAdvertisingSet(ctx, adv, startFeed, params); err != nil {
				return err
			}
			log.Debug("Advertising restarted")
		}
	}
}

// startAdvertisingSet issues the trigger and awaits the started event for the
// returned registration id. A failed start fails the call.
func (s *Service) startAdvertisingSet(ctx context.Context, adv *advertiser, startFeed *advertiseStartFeed, params stack.AdvertiseParams) error {
	regID, err := s.stack.StartAdvertisingSet(params)
	if err != nil {
		return fmt.Errorf("start advertising set: %w", err)
	}

	deadline, cancel := context.WithTimeout(ctx, s.timeouts.AdvertiseStart)
	defer cancel()
	for {
		ev, err := startFeed.events.Next(deadline)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("%w: advertising set %d never started", rpc.ErrTimeout, regID)
			}
			return err
		}
		if ev.RegID != regID {
			continue
		}
		if ev.Status != stack.GattSuccess {
			return fmt.Errorf("advertising set %d failed to start: status %d", regID, ev.Status)
		}
		adv.track(ev.AdvertiserID)
		return nil
	}
}
