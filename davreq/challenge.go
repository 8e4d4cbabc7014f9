package davreq

type Credential struct {
	Username string
	Password string
}

type challengePolicy struct {
	cred           Credential
	allowUntrusted bool
}

func (p *challengePolicy) isSupported(m Mechanism) bool {
	switch m {
	case MechanismDefault, MechanismBasic, MechanismDigest, MechanismServerTrust:
		return true
	}
	return false
}

func (p *challengePolicy) answer(ch *Challenge) ChallengeAnswer {
	if !p.isSupported(ch.Space.Mechanism) {
		return ChallengeAnswer{Disposition: RejectProtectionSpace}
	}
	if ch.Space.Mechanism == MechanismServerTrust {
		if p.allowUntrusted && len(ch.Space.Certificates) > 0 {
			return ChallengeAnswer{
				Disposition: UseCredential,
				Credential:  &ChallengeCredential{Trust: ch.Space.Certificates},
			}
		}
		return ChallengeAnswer{Disposition: PerformDefaultHandling}
	}
	// one attempt per protection space, a second failure means wrong login
	if ch.PreviousFailureCount == 0 {
		return ChallengeAnswer{
			Disposition: UseCredential,
			Credential: &ChallengeCredential{
				Username: p.cred.Username,
				Password: p.cred.Password,
			},
		}
	}
	return ChallengeAnswer{Disposition: CancelChallenge}
}
