package handlers

import "vrschool-media/config"

type Footer struct {
	BuildDate    string `json:"buildDate"`
	BuildId      string `json:"buildId"`
	BuildIdShort string `json:"buildIdShort"`
}

func MakeFooter() Footer {
	sha := config.GetGitSHA()
	short := sha
	if len(short) > 7 {
		short = short[0:7]
	}
	return Footer{
		BuildDate:    config.GetBuildDate(),
		BuildId:      sha,
		BuildIdShort: short,
	}
}
