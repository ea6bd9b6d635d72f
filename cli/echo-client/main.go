//go:build linux

package main

import (
	"net"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/sagernet/sing-async"
	E "github.com/sagernet/sing-async/common/exceptions"
	_ "github.com/sagernet/sing-async/common/log"
	M "github.com/sagernet/sing-async/common/metadata"
	"github.com/sagernet/sing-async/eventloop"
)

func main() {
	command := &cobra.Command{
		Use:  "echo-client <host:port> <message>",
		Args: cobra.ExactArgs(2),
		Run:  run,
	}
	if err := command.Execute(); err != nil {
		logrus.Fatal(err)
	}
}

func run(cmd *cobra.Command, args []string) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", args[0])
	if err != nil {
		logrus.Fatal(async.HostNotFound, ": ", err)
	}
	remote := M.EndpointFrom(tcpAddr.IP, uint16(tcpAddr.Port))

	fd, err := connect(remote)
	if err != nil {
		logrus.Fatal(err)
	}

	loop, err := eventloop.New()
	if err != nil {
		unix.Close(fd)
		logrus.Fatal(err)
	}

	handler := &echoHandler{loop: loop}
	conn, err := async.NewConnection(loop, fd, remote, handler)
	if err != nil {
		unix.Close(fd)
		logrus.Fatal(err)
	}

	if _, err = conn.Send(append([]byte(args[1]), '\n')); err != nil {
		logrus.Fatal(err)
	}
	if err = loop.Run(); err != nil {
		logrus.Fatal(err)
	}
}

func connect(remote M.Endpoint) (int, error) {
	domain := unix.AF_INET
	var sa unix.Sockaddr
	if remote.Addr.Is4() {
		sa4 := &unix.SockaddrInet4{Port: int(remote.Port)}
		copy(sa4.Addr[:], remote.Addr.AsSlice())
		sa = sa4
	} else {
		domain = unix.AF_INET6
		sa6 := &unix.SockaddrInet6{Port: int(remote.Port)}
		copy(sa6.Addr[:], remote.Addr.AsSlice())
		sa = sa6
	}
	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return 0, E.Cause(err, "create socket")
	}
	if err = unix.Connect(fd, sa); err != nil {
		unix.Close(fd)
		return 0, E.Cause(err, "connect to ", remote)
	}
	if err = unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return 0, E.Cause(err, "set non-blocking")
	}
	return fd, nil
}

type echoHandler struct {
	loop *eventloop.Loop
}

func (h *echoHandler) HandleData(conn *async.Connection, data []byte) int {
	logrus.Info("received: ", string(data))
	conn.Disconnect()
	if err := h.loop.Close(); err != nil {
		logrus.Error(err)
	}
	return len(data)
}

func (h *echoHandler) HandleDisconnect(conn *async.Connection, reason async.DisconnectReason) {
	logrus.Info("disconnected from ", conn.RemoteEndpoint(), ": ", reason)
	if err := h.loop.Close(); err != nil {
		logrus.Error(err)
	}
}

func (h *echoHandler) HandleSendBufferFull(isFull bool) {
	if isFull {
		logrus.Warn("send buffer full, stop writing")
	} else {
		logrus.Info("send buffer drained")
	}
}
