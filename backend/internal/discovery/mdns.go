package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
)

const DefaultService = "_collabboard._tcp"

var ErrNoServer = errors.New("no board server found")

// Advertiser 局域网广播本机的画板服务
type Advertiser struct {
	server *mdns.Server
}

// Advertise 以 instance 名称注册服务；txt 里放 path=/board/ws 之类的提示
func Advertise(instance, service string, port int, txt []string) (*Advertiser, error) {
	if service == "" {
		service = DefaultService
	}
	if instance == "" {
		host, _ := os.Hostname()
		instance = "board-" + host
	}
	svc, err := mdns.NewMDNSService(instance, service, "", "", port, nil, txt)
	if err != nil {
		return nil, fmt.Errorf("mdns service: %w", err)
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: svc})
	if err != nil {
		return nil, fmt.Errorf("mdns server: %w", err)
	}
	return &Advertiser{server: server}, nil
}

func (a *Advertiser) Shutdown() error {
	if a == nil || a.server == nil {
		return nil
	}
	return a.server.Shutdown()
}

type Entry struct {
	Name string
	Addr string // host:port
	Info []string
}

// Browse 查询一次，返回 timeout 内发现的所有实例
func Browse(ctx context.Context, service string, timeout time.Duration) ([]Entry, error) {
	if service == "" {
		service = DefaultService
	}
	entries := make(chan *mdns.ServiceEntry, 16)
	var found []Entry
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range entries {
			if !strings.Contains(e.Name, service) {
				continue
			}
			ip := e.AddrV4
			if ip == nil {
				ip = e.AddrV6
			}
			if ip == nil {
				continue
			}
			found = append(found, Entry{
				Name: e.Name,
				Addr: net.JoinHostPort(ip.String(), fmt.Sprint(e.Port)),
				Info: e.InfoFields,
			})
		}
	}()

	params := mdns.DefaultParams(service)
	params.Entries = entries
	params.Timeout = timeout
	params.DisableIPv6 = true
	err := mdns.Query(params)
	close(entries)
	<-done
	if err != nil {
		return nil, fmt.Errorf("mdns query: %w", err)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return found, nil
}

// Resolve 返回第一个发现的服务地址
func Resolve(ctx context.Context, service string, timeout time.Duration) (string, error) {
	entries, err := Browse(ctx, service, timeout)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", ErrNoServer
	}
	return entries[0].Addr, nil
}
