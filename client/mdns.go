package client

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/grandcat/zeroconf"
)

// mdnsServiceType is the DNS-SD service a VisitMaster backend advertises on
// the LAN.
const mdnsServiceType = "_visitmaster._tcp"

// StartMDNSBrowser browses the LAN for advertised VisitMaster backends and
// feeds each discovered base URL to enqueue (typically
// EndpointResolver.AddCandidates). It runs until the context is canceled and
// is strictly best-effort: failures are logged, never returned.
func StartMDNSBrowser(ctx context.Context, enqueue func(string)) {
	go func() {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			logInfo("mDNS resolver error: " + err.Error())
			return
		}
		entries := make(chan *zeroconf.ServiceEntry)
		// consume entries
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case e, ok := <-entries:
					if !ok {
						return
					}
					for _, ip := range e.AddrIPv4 {
						enqueue(baseURLForEntry(ip, e.Port))
					}
				}
			}
		}()
		logInfo("mDNS browse start: " + mdnsServiceType)
		// zeroconf.Browse runs until ctx is done and closes the entries channel
		if err := resolver.Browse(ctx, mdnsServiceType, "local.", entries); err != nil {
			logInfo("mDNS browse error: " + err.Error())
		}
	}()
}

// baseURLForEntry builds the API base URL for a discovered backend instance.
func baseURLForEntry(ip net.IP, port int) string {
	host := net.JoinHostPort(ip.String(), strconv.Itoa(port))
	return fmt.Sprintf("http://%s/api", host)
}
