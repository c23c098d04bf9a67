package main

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/p2p-songsharing/soundmesh/services/peer/internal/notify"
	"github.com/p2p-songsharing/soundmesh/services/peer/internal/session"
	"github.com/p2p-songsharing/soundmesh/services/peer/internal/settings"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#5F5FD7")).
			Padding(0, 1)

	infoStyle = lipgloss.NewStyle().
			Italic(true).
			Foreground(lipgloss.Color("#888888"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5F5F"))
)

// runMenu drives the interactive loop until the user quits
func runMenu(sess *session.Session, store *settings.Store) {
	for {
		if msg := sess.Surface().LastError(); msg != "" {
			fmt.Println(errorStyle.Render("! " + msg))
		}

		switch showMainMenu(sess, store) {
		case "download":
			downloadSong(sess)
		case "served":
			showServed(sess)
		case "sharing":
			toggleSharing(store)
		case "quit":
			return
		}
	}
}

func showMainMenu(sess *session.Session, store *settings.Store) string {
	sharing := "off"
	if store.Get().SharingEnabled {
		sharing = "on"
	}

	var option string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("What would you like to do?").
				Options(
					huh.NewOption(fmt.Sprintf("Download a song (%d peers online)", sess.PeerCount()), "download"),
					huh.NewOption("Show songs served to peers", "served"),
					huh.NewOption(fmt.Sprintf("Toggle sharing (currently %s)", sharing), "sharing"),
					huh.NewOption("Quit", "quit"),
				).
				Value(&option),
		),
	)

	if err := form.Run(); err != nil {
		fmt.Printf("Error: %v\n", err)
		return "quit"
	}
	return option
}

// downloadSong shows the global catalog and runs one blocking download,
// echoing the progress milestones as they land.
func downloadSong(sess *session.Session) {
	catalog := sess.Catalog()
	if len(catalog) == 0 {
		fmt.Println(infoStyle.Render("No songs available yet, peers may still be announcing"))
		return
	}

	options := make([]huh.Option[int], 0, len(catalog))
	for i, entry := range catalog {
		label := fmt.Sprintf("%s — %s (%d KB)", entry.Name, entry.PeerName, entry.Size/1024)
		options = append(options, huh.NewOption(label, i))
	}

	var choice int
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[int]().
				Title("Pick a song to download").
				Options(options...).
				Value(&choice),
		),
	)
	if err := form.Run(); err != nil {
		return
	}

	entry := catalog[choice]

	sess.Surface().OnProgress(func(p *notify.Progress) {
		if p == nil {
			return
		}
		fmt.Printf("  %3d%%  %s\n", p.Progress, p.Status)
	})
	defer sess.Surface().OnProgress(nil)

	if err := sess.Download(entry); err != nil {
		fmt.Println(errorStyle.Render("Download failed: " + err.Error()))
		return
	}
	fmt.Printf("Downloaded %s from %s\n", entry.Name, entry.PeerName)
}

func showServed(sess *session.Session) {
	served := sess.Surface().Served()
	if len(served) == 0 {
		fmt.Println(infoStyle.Render("No songs served yet"))
		return
	}
	for _, ev := range served {
		fmt.Printf("  %s  %s -> %s\n", ev.Timestamp.Format("15:04:05"), ev.SongName, ev.PeerName)
	}
}

func toggleSharing(store *settings.Store) {
	enabled := store.Get().SharingEnabled

	verb := "Enable"
	if enabled {
		verb = "Disable"
	}
	if !showConfirm(fmt.Sprintf("%s sharing?", verb)) {
		return
	}

	if err := store.Update(func(s *settings.Settings) {
		s.SharingEnabled = !enabled
	}); err != nil {
		fmt.Println(errorStyle.Render("Failed to save settings: " + err.Error()))
	}
}

func showConfirm(title string) bool {
	var confirm bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Affirmative("Yes").
				Negative("No").
				Title(title).
				Value(&confirm),
		),
	)
	if err := form.Run(); err != nil {
		return false
	}
	return confirm
}
