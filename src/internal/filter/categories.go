package filter

import "sort"

// categoryDomains maps a category tag to its seed domains.
var categoryDomains = map[string][]string{
	"social-networks": {
		"facebook.com", "instagram.com", "x.com", "tiktok.com",
		"snapchat.com", "reddit.com", "discord.com", "pinterest.com",
	},
	"adult-content": {
		"pornhub.com", "xvideos.com", "xnxx.com", "xhamster.com", "onlyfans.com", "chaturbate.com",
	},
	"gambling": {
		"bet365.com", "pokerstars.com", "888casino.com", "williamhill.com", "betway.com", "stake.com",
	},
	"weapons": {
		"gunbroker.com", "armslist.com", "budsgunshop.com", "cheaperthandirt.com",
	},
	"drugs": {
		"erowid.org", "leafly.com", "weedmaps.com", "drugs-forum.com",
	},
	"violence": {
		"bestgore.fun", "kaotic.com", "goregrish.com", "theync.com",
	},
	"dating": {
		"tinder.com", "bumble.com", "match.com", "okcupid.com", "hinge.co", "badoo.com",
	},
	"chat": {
		"whatsapp.com", "telegram.org", "messenger.com", "signal.org", "wechat.com", "omegle.com",
	},
	"streaming": {
		"youtube.com", "netflix.com", "twitch.tv", "hulu.com", "disneyplus.com", "primevideo.com",
	},
	"games": {
		"roblox.com", "steampowered.com", "epicgames.com", "minecraft.net", "ea.com", "playstation.com",
	},
	"shopping": {
		"amazon.com", "ebay.com", "aliexpress.com", "temu.com", "shein.com", "etsy.com",
	},
	"forums": {
		"4chan.org", "quora.com", "stackexchange.com", "tumblr.com", "9gag.com",
	},
	"news": {
		"cnn.com", "bbc.com", "nytimes.com", "foxnews.com", "theguardian.com", "reuters.com",
	},
}

// Categories returns every known category tag in alphabetical order.
func Categories() []string {
	out := make([]string, 0, len(categoryDomains))
	for name := range categoryDomains {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// IsKnownCategory reports whether tag names a category in the seed table.
func IsKnownCategory(tag string) bool {
	_, ok := categoryDomains[normalizeCategory(tag)]
	return ok
}

// CategoryDomains returns a copy of the seed domains for tag, or nil.
func CategoryDomains(tag string) []string {
	domains, ok := categoryDomains[normalizeCategory(tag)]
	if !ok {
		return nil
	}
	return append([]string(nil), domains...)
}
