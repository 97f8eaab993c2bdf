package host

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/srg/btgate/internal/correlate"
	"github.com/srg/btgate/internal/registry"
	"github.com/srg/btgate/internal/stack"
	"github.com/srg/btgate/pkg/rpc"
	"github.com/srg/btgate/pkg/wire"
)

func scanResultMsg(ev stack.ScanResult) *wire.ScanningResponse {
	resp := &wire.ScanningResponse{
		TxPower:             ev.TxPower,
		RSSI:                ev.RSSI,
		SID:                 ev.AdvertisingSID,
		PeriodicAdvertising: ev.PeriodicAdvInterval,
	}
	switch ev.PrimaryPhy {
	case stack.PhyCoded:
		resp.PrimaryPhy = wire.PrimaryCoded
	default:
		resp.PrimaryPhy = wire.Primary1M
	}
	switch ev.SecondaryPhy {
	case stack.Phy1M:
		resp.SecondaryPhy = wire.Secondary1M
	case stack.Phy2M:
		resp.SecondaryPhy = wire.Secondary2M
	case stack.PhyCoded:
		resp.SecondaryPhy = wire.SecondaryCoded
	default:
		resp.SecondaryPhy = wire.SecondaryNone
	}
	switch ev.AddressType {
	case stack.AddrRandom:
		resp.Random = ev.Address.Bytes()
	case stack.AddrPublicIdentity:
		resp.PublicIdentity = ev.Address.Bytes()
	case stack.AddrRandomStaticIdentity:
		resp.RandomStaticIdentity = ev.Address.Bytes()
	default:
		resp.Public = ev.Address.Bytes()
	}

	// LE discoverability flags: bit 0 limited, bit 1 general.
	switch {
	case ev.Flags&0x01 != 0:
		resp.Discoverability = wire.WireDiscoverableLimited
	case ev.Flags&0x02 != 0:
		resp.Discoverability = wire.WireDiscoverableGeneral
	default:
		resp.Discoverability = wire.WireNotDiscoverable
	}
	return resp
}

// Scan registers an LE scanner, waits for the registration event matching the
// token this call received, starts scanning and streams results in arrival
// order until the client cancels. Teardown stops the scan once.
func (s *Service) Scan(ctx context.Context, _ *wire.ScanRequest, send func(*wire.ScanningResponse) error) error {
	feed := newScanFeed()
	feedName := registry.ObserverName(feed)
	if err := s.registry.Register(stack.CategoryScan, feedName, feed); err != nil {
		return err
	}
	defer s.registry.Unregister(stack.CategoryScan, feedName)
	defer feed.results.Close()

	regFeed := newScannerRegFeed()
	regName := registry.ObserverName(regFeed)
	if err := s.registry.Register(stack.CategoryScan, regName, regFeed); err != nil {
		return err
	}
	defer s.registry.Unregister(stack.CategoryScan, regName)
	defer regFeed.events.Close()

	token, err := s.stack.RegisterScanner()
	if err != nil {
		return fmt.Errorf("register scanner: %w", err)
	}

	reg, err := awaitScannerRegistered(ctx, regFeed, token, s.timeouts.ScannerRegister)
	if err != nil {
		return err
	}
	if reg.Status != stack.GattSuccess {
		return fmt.Errorf("scanner registration failed: status %d", reg.Status)
	}

	if err := s.stack.StartScan(reg.ScannerID); err != nil {
		return fmt.Errorf("start scan: %w", err)
	}
	defer func() {
		_ = s.stack.StopScan(reg.ScannerID)
	}()
	s.logger.WithField("scanner", reg.ScannerID).Info("Scanning")

	for {
		ev, err := feed.results.Next(ctx)
		if err != nil {
			return err
		}
		if err := send(scanResultMsg(ev)); err != nil {
			return err
		}
	}
}

// awaitScannerRegistered drains registration events until the one carrying
// this call's token arrives.
func awaitScannerRegistered(ctx context.Context, feed *scannerRegFeed, token uuid.UUID, timeout time.Duration) (stack.ScannerRegistered, error) {
	deadline, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	for {
		ev, err := feed.events.Next(deadline)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return stack.ScannerRegistered{}, fmt.Errorf("%w: scanner %s never registered", rpc.ErrTimeout, token)
			}
			return stack.ScannerRegistered{}, err
		}
		if ev.UUID == token {
			return ev, nil
		}
	}
}

// Inquiry runs classic discovery and streams found devices until the client
// cancels. Discovery already running is reused; teardown stops it.
func (s *Service) Inquiry(ctx context.Context, _ *wire.Empty, send func(*wire.InquiryResponse) error) error {
	feed := newInquiryFeed()
	feedName := registry.ObserverName(feed)
	if err := s.registry.Register(stack.CategoryScan, feedName, feed); err != nil {
		return err
	}
	defer s.registry.Unregister(stack.CategoryScan, feedName)
	defer feed.found.Close()

	if !s.stack.IsDiscovering() {
		waiter := newDiscoveringWaiter(true)
		waiterName := registry.ObserverName(waiter)
		if err := s.registry.Register(stack.CategoryScan, waiterName, waiter); err != nil {
			return err
		}
		defer s.registry.Unregister(stack.CategoryScan, waiterName)

		if err := s.stack.StartDiscovery(); err != nil {
			return fmt.Errorf("start discovery: %w", err)
		}
		if _, err := waiter.done.Await(ctx, s.timeouts.DiscoveryStart); err != nil {
			if errors.Is(err, correlate.ErrTimeout) {
				return fmt.Errorf("%w: discovery never started", rpc.ErrTimeout)
			}
			return err
		}
	}
	defer func() {
		_ = s.stack.StopDiscovery()
	}()
	s.logger.Info("Inquiry running")

	for {
		ev, err := feed.found.Next(ctx)
		if err != nil {
			return err
		}
		if err := send(&wire.InquiryResponse{Address: ev.Address.Bytes()}); err != nil {
			return err
		}
	}
}
