package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/Tyrowin/voicehub/internal/relay"
)

var (
	primary = lipgloss.Color("#22d3ee")
	muted   = lipgloss.Color("#6b7280")

	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(primary).Padding(0, 1)
	rowStyle    = lipgloss.NewStyle().Padding(0, 1)
	rowAltStyle = rowStyle.Foreground(lipgloss.Color("#d1d5db"))
	mutedStyle  = lipgloss.NewStyle().Foreground(muted)
	errorStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ef4444"))
)

const roomsEndpoint = "/api/rooms"

var roomsServer string

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List active rooms on a running hub",
	Long: `Fetch the active rooms from a running hub and print them as a table.

Examples:
  voicehub rooms
  voicehub rooms --server https://voice.example.com`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		rooms, err := fetchRooms(ctx, http.DefaultClient, roomsServer)
		if err != nil {
			return err
		}
		fmt.Println(roomsView(rooms))
		return nil
	},
}

func init() {
	roomsCmd.Flags().StringVar(&roomsServer, "server", "http://localhost:8080", "base URL of the hub")
}

func fetchRooms(ctx context.Context, client *http.Client, base string) ([]relay.RoomInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	url := strings.TrimRight(base, "/") + roomsEndpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch rooms: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch rooms: %s returned %s", url, resp.Status)
	}

	var rooms []relay.RoomInfo
	if err := json.NewDecoder(resp.Body).Decode(&rooms); err != nil {
		return nil, fmt.Errorf("decode rooms: %w", err)
	}
	return rooms, nil
}

// roomsView renders rooms as a bordered table.
func roomsView(rooms []relay.RoomInfo) string {
	if len(rooms) == 0 {
		return mutedStyle.Render("No active rooms")
	}

	rows := make([][]string, 0, len(rooms))
	for _, r := range rooms {
		sharer := "-"
		if r.ScreenSharer != nil {
			sharer = *r.ScreenSharer
		}
		rows = append(rows, []string{
			r.RoomID,
			strconv.Itoa(len(r.Users)),
			strings.Join(r.Users, ", "),
			sharer,
		})
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(primary)).
		Headers("Room", "Members", "Users", "Sharing").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case row%2 == 0:
				return rowStyle
			default:
				return rowAltStyle
			}
		})

	return tbl.Render()
}
