package push

import (
	"fmt"
	"net/url"
	"strings"

	"classifieds/internal/types"
)

// NewMessage renders the user-facing copy for a boost event on a listing.
// baseURL is the public web origin used for the deep link.
func NewMessage(event types.PushEvent, ownerID, listingID, listingTitle, baseURL string) types.PushMessage {
	name := strings.TrimSpace(listingTitle)
	if name == "" {
		name = "Your listing"
	}

	var title, body string
	switch event {
	case types.PushEventBoostStarted:
		title = "Boost activated"
		body = fmt.Sprintf("%s is now boosted and shown above regular listings.", name)
	case types.PushEventBoostBumped:
		title = "Back on top"
		body = fmt.Sprintf("%s was bumped to the top of the results.", name)
	case types.PushEventBoostExpired:
		title = "Boost ended"
		body = fmt.Sprintf("The boost on %s has ended. Boost again to stay visible.", name)
	default:
		title = "Listing update"
		body = name
	}

	return types.PushMessage{
		Event:       event,
		RecipientID: ownerID,
		ListingID:   listingID,
		Title:       title,
		Body:        body,
		LinkURL:     listingLink(baseURL, listingID),
	}
}

func listingLink(baseURL, listingID string) string {
	if baseURL == "" {
		return ""
	}
	link, err := url.JoinPath(baseURL, "items", listingID)
	if err != nil {
		return ""
	}
	return link
}
